package model

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xaiviz/internal/pickle"
)

func TestParseDtype(t *testing.T) {
	tests := []struct {
		descr     string
		kind      byte
		itemSize  int
		bigEndian bool
	}{
		{"<f8", 'f', 8, false},
		{"<f4", 'f', 4, false},
		{">i4", 'i', 4, true},
		{"<i8", 'i', 8, false},
		{"|b1", 'b', 1, false},
		{"<U10", 'U', 40, false},
		{"|S16", 'S', 16, false},
		{"V56", 'V', 56, false},
	}
	for _, tt := range tests {
		t.Run(tt.descr, func(t *testing.T) {
			d, err := parseDtype(tt.descr)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.itemSize, d.ItemSize)
			assert.Equal(t, tt.bigEndian, d.BigEndian)
		})
	}
}

func TestParseDtypeRejected(t *testing.T) {
	for _, descr := range []string{"", "<", "|O", "<x8"} {
		_, err := parseDtype(descr)
		require.Error(t, err, descr)
	}
}

func float64LE(vals ...float64) []byte {
	raw := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return raw
}

func TestNDArraySetPickleState(t *testing.T) {
	dt, err := parseDtype("<f8")
	require.NoError(t, err)
	arr := &NDArray{}
	state := pickle.Tuple{
		int64(1),
		pickle.Tuple{int64(2), int64(2)},
		dt,
		false,
		float64LE(1, 2, 3, 4),
	}
	require.NoError(t, arr.SetPickleState(state))
	assert.Equal(t, []int{2, 2}, arr.Shape)
	assert.Equal(t, []float64{1, 2, 3, 4}, arr.Floats)

	rows, ok := arr.Matrix()
	require.True(t, ok)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, rows)
}

func TestNDArrayFortranRejected(t *testing.T) {
	dt, _ := parseDtype("<f8")
	arr := &NDArray{}
	state := pickle.Tuple{
		int64(1),
		pickle.Tuple{int64(2), int64(2)},
		dt,
		true,
		float64LE(1, 2, 3, 4),
	}
	err := arr.SetPickleState(state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fortran")
}

func TestNDArrayObjectElements(t *testing.T) {
	dt, _ := parseDtype("<f8")
	arr := &NDArray{}
	state := pickle.Tuple{
		int64(1),
		pickle.Tuple{int64(2)},
		dt,
		false,
		[]any{"setosa", "virginica"},
	}
	require.NoError(t, arr.SetPickleState(state))
	assert.Equal(t, []string{"setosa", "virginica"}, arr.Strings)
}

func TestNDArrayShortData(t *testing.T) {
	dt, _ := parseDtype("<f8")
	arr := &NDArray{Shape: []int{3}, Dtype: dt}
	err := arr.fill(float64LE(1, 2))
	require.Error(t, err)
}

func TestNDArrayIntKinds(t *testing.T) {
	dt, _ := parseDtype("<i4")
	raw := make([]byte, 8)
	neg := int32(-5)
	binary.LittleEndian.PutUint32(raw, uint32(neg))
	binary.LittleEndian.PutUint32(raw[4:], 7)
	arr := &NDArray{Shape: []int{2}, Dtype: dt}
	require.NoError(t, arr.fill(raw))
	assert.Equal(t, []float64{-5, 7}, arr.Floats)
}

func TestNDArrayUnicodeStrings(t *testing.T) {
	dt, _ := parseDtype("<U3")
	raw := make([]byte, 2*12)
	for i, r := range "yes" {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(r))
	}
	for i, r := range "no" {
		binary.LittleEndian.PutUint32(raw[12+i*4:], uint32(r))
	}
	arr := &NDArray{Shape: []int{2}, Dtype: dt}
	require.NoError(t, arr.fill(raw))
	assert.Equal(t, []string{"yes", "no"}, arr.Strings)
}

func TestReconstructScalar(t *testing.T) {
	dt, _ := parseDtype("<f8")
	v, err := reconstructScalar(pickle.Tuple{dt, float64LE(2.5)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)
}

func TestArrayWrapperPayload(t *testing.T) {
	w := &arrayWrapper{}
	state := map[any]any{
		"shape":                       pickle.Tuple{int64(3)},
		"dtype":                       "<f8",
		"order":                       "C",
		"numpy_array_alignment_bytes": int64(8),
	}
	require.NoError(t, w.SetPickleState(state))

	// Payload: one padding-length byte, the padding, then the raw array.
	var buf bytes.Buffer
	buf.WriteByte(3)
	buf.Write(make([]byte, 3))
	buf.Write(float64LE(1.5, 2.5, 3.5))

	v, err := w.ReadPayload(bufio.NewReader(&buf))
	require.NoError(t, err)
	arr, ok := v.(*NDArray)
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2.5, 3.5}, arr.Floats)
}

func TestArrayWrapperNoAlignment(t *testing.T) {
	w := &arrayWrapper{}
	require.NoError(t, w.SetPickleState(map[any]any{
		"shape": pickle.Tuple{int64(2)},
		"dtype": "<f8",
	}))
	var buf bytes.Buffer
	buf.Write(float64LE(4, 5))
	v, err := w.ReadPayload(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, v.(*NDArray).Floats)
}
