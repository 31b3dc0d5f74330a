package model

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// irisTree is the classic petal split: node 0 on petal_length, node 2 on
// petal_width.
func irisTree() *Tree {
	return &Tree{
		Left:      []int{1, -1, 3, -1, -1},
		Right:     []int{2, -1, 4, -1, -1},
		Feature:   []int{2, -2, 3, -2, -2},
		Threshold: []float64{2.45, -2, 1.75, -2, -2},
		Value: [][]float64{
			{50, 50, 50},
			{50, 0, 0},
			{0, 50, 50},
			{0, 49, 5},
			{0, 1, 45},
		},
		Classes: []string{"setosa", "versicolor", "virginica"},
		Width:   4,
		Names:   []string{"sepal_length", "sepal_width", "petal_length", "petal_width"},
	}
}

func TestTreePredict(t *testing.T) {
	tr := irisTree()
	tests := []struct {
		features []float64
		want     string
	}{
		{[]float64{5.0, 3.0, 1.0, 0.2}, "setosa"},
		{[]float64{6.0, 3.0, 4.5, 1.2}, "versicolor"},
		{[]float64{6.5, 3.0, 5.5, 2.1}, "virginica"},
	}
	for _, tt := range tests {
		got, err := tr.Predict(tt.features)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTreePredictProba(t *testing.T) {
	tr := irisTree()
	probs, err := tr.PredictProba([]float64{6.0, 3.0, 4.5, 1.2})
	require.NoError(t, err)
	require.Len(t, probs, 3)
	assert.InDelta(t, 0, probs[0], 1e-9)
	assert.InDelta(t, 49.0/54.0, probs[1], 1e-9)
	assert.InDelta(t, 5.0/54.0, probs[2], 1e-9)
}

func TestTreeWidthMismatch(t *testing.T) {
	tr := irisTree()
	_, err := tr.Predict([]float64{1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 4 features")
}

func TestTreeDecisionPath(t *testing.T) {
	tr := irisTree()
	path, err := tr.DecisionPath([]float64{6.5, 3.0, 5.5, 2.1})
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, 2, path[0].Feature)
	assert.False(t, path[0].WentLeft)
	assert.Equal(t, 3, path[1].Feature)
	assert.False(t, path[1].WentLeft)
}

func TestTreeRegression(t *testing.T) {
	tr := &Tree{
		Left:      []int{1, -1, -1},
		Right:     []int{2, -1, -1},
		Feature:   []int{0, -2, -2},
		Threshold: []float64{10, -2, -2},
		Value:     [][]float64{{15}, {8.5}, {22}},
	}
	got, err := tr.Predict([]float64{5})
	require.NoError(t, err)
	assert.Equal(t, "8.5", got)
	got, err = tr.Predict([]float64{12})
	require.NoError(t, err)
	assert.Equal(t, "22", got)
}

func TestTreeSetPickleStateArrays(t *testing.T) {
	tr := &Tree{}
	state := map[any]any{
		"n_features_in_": int64(1),
		"classes_":       []any{"no", "yes"},
		"children_left":  []any{int64(1), int64(-1), int64(-1)},
		"children_right": []any{int64(2), int64(-1), int64(-1)},
		"feature":        []any{int64(0), int64(-2), int64(-2)},
		"threshold":      []any{0.5, -2.0, -2.0},
		"value":          []any{[]any{5.0, 5.0}, []any{4.0, 1.0}, []any{1.0, 4.0}},
	}
	require.NoError(t, tr.SetPickleState(state))
	assert.Equal(t, 1, tr.Width)
	assert.Equal(t, []string{"no", "yes"}, tr.Classes)

	got, err := tr.Predict([]float64{0.2})
	require.NoError(t, err)
	assert.Equal(t, "no", got)
	got, err = tr.Predict([]float64{0.8})
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}

func TestTreeSetPickleStateLegacyFeatureNames(t *testing.T) {
	arrays := map[any]any{
		"children_left":  []any{int64(1), int64(-1), int64(-1)},
		"children_right": []any{int64(2), int64(-1), int64(-1)},
		"feature":        []any{int64(0), int64(-2), int64(-2)},
		"threshold":      []any{0.5, -2.0, -2.0},
		"value":          []any{[]any{5.0, 5.0}, []any{4.0, 1.0}, []any{1.0, 4.0}},
	}

	tr := &Tree{}
	state := map[any]any{"feature_names": []any{"income", "age"}}
	for k, v := range arrays {
		state[k] = v
	}
	require.NoError(t, tr.SetPickleState(state))
	assert.Equal(t, []string{"income", "age"}, tr.Names)

	// The suffixed attribute wins when both are present.
	tr = &Tree{}
	state = map[any]any{
		"feature_names_in_": []any{"f0", "f1"},
		"feature_names":     []any{"income", "age"},
	}
	for k, v := range arrays {
		state[k] = v
	}
	require.NoError(t, tr.SetPickleState(state))
	assert.Equal(t, []string{"f0", "f1"}, tr.Names)
}

func TestTreeSetPickleStateRejectsBadChild(t *testing.T) {
	tr := &Tree{}
	state := map[any]any{
		"children_left":  []any{int64(5), int64(-1), int64(-1)},
		"children_right": []any{int64(2), int64(-1), int64(-1)},
		"feature":        []any{int64(0), int64(-2), int64(-2)},
		"threshold":      []any{0.5, -2.0, -2.0},
		"value":          []any{[]any{5.0, 5.0}, []any{4.0, 1.0}, []any{1.0, 4.0}},
	}
	err := tr.SetPickleState(state)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

// nodeRecords packs a classic 56-byte node table.
func nodeRecords(left, right, feature []int64, threshold []float64) []byte {
	raw := make([]byte, len(left)*56)
	for i := range left {
		base := i * 56
		binary.LittleEndian.PutUint64(raw[base:], uint64(left[i]))
		binary.LittleEndian.PutUint64(raw[base+8:], uint64(right[i]))
		binary.LittleEndian.PutUint64(raw[base+16:], uint64(feature[i]))
		binary.LittleEndian.PutUint64(raw[base+24:], math.Float64bits(threshold[i]))
	}
	return raw
}

func TestFittedTreeRecordTable(t *testing.T) {
	nodes := &NDArray{
		Shape: []int{3},
		Dtype: &Dtype{Kind: 'V', ItemSize: 56},
		Raw: nodeRecords(
			[]int64{1, -1, -1},
			[]int64{2, -1, -1},
			[]int64{0, -2, -2},
			[]float64{0.5, -2, -2},
		),
	}
	values := &NDArray{
		Shape:  []int{3, 1, 2},
		Dtype:  &Dtype{Kind: 'f', ItemSize: 8},
		Floats: []float64{5, 5, 4, 1, 1, 4},
	}

	ftAny, err := newFittedTree(nil)
	require.NoError(t, err)
	ft := ftAny.(*fittedTree)
	require.NoError(t, ft.SetPickleState(map[any]any{"nodes": nodes, "values": values}))

	tr := &Tree{}
	state := map[any]any{
		"n_features_in_": int64(1),
		"classes_":       []any{"no", "yes"},
		"tree_":          ft,
	}
	require.NoError(t, tr.SetPickleState(state))

	got, err := tr.Predict([]float64{0.9})
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
	probs, err := tr.PredictProba([]float64{0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.8, probs[0], 1e-9)
}

func TestFittedTreeRejectsBadChild(t *testing.T) {
	nodes := &NDArray{
		Shape: []int{3},
		Dtype: &Dtype{Kind: 'V', ItemSize: 56},
		Raw: nodeRecords(
			[]int64{9, -1, -1},
			[]int64{2, -1, -1},
			[]int64{0, -2, -2},
			[]float64{0.5, -2, -2},
		),
	}
	values := &NDArray{
		Shape:  []int{3, 1, 2},
		Dtype:  &Dtype{Kind: 'f', ItemSize: 8},
		Floats: []float64{5, 5, 4, 1, 1, 4},
	}
	ftAny, _ := newFittedTree(nil)
	ft := ftAny.(*fittedTree)
	require.NoError(t, ft.SetPickleState(map[any]any{"nodes": nodes, "values": values}))

	tr := &Tree{}
	err := tr.SetPickleState(map[any]any{"tree_": ft})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestFittedTreeMissingNodes(t *testing.T) {
	ftAny, _ := newFittedTree(nil)
	ft := ftAny.(*fittedTree)
	err := ft.SetPickleState(map[any]any{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node table")
}
