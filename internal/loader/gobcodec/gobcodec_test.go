package gobcodec_test

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xaiviz/internal/loader"
	_ "xaiviz/internal/loader/gobcodec"
	"xaiviz/internal/model"
)

func gobArtifact(t *testing.T) string {
	t.Helper()
	d := model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "decision_tree",
		Classes:       []string{"no", "yes"},
		NFeatures:     1,
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{0, -2, -2},
		Threshold:     []float64{0.5, -2, -2},
		Value:         [][]float64{{5, 5}, {4, 1}, {1, 4}},
	}
	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(&d))
	path := filepath.Join(t.TempDir(), "tree.gob")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestGobCodecRegistered(t *testing.T) {
	names := loader.NewRegistry().Names()
	require.Contains(t, names, "Go gob")
	// The codec slots in before the last-resort unpickler.
	assert.Equal(t, "Custom unpickler", names[len(names)-1])
	assert.Equal(t, "Go gob", names[len(names)-2])
}

func TestGobCodecLoadsDescriptor(t *testing.T) {
	path := gobArtifact(t)
	ctx := loader.New(nil, nil)
	handle, strategy, err := ctx.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "Go gob", strategy)

	tr, ok := handle.(*model.Tree)
	require.True(t, ok)
	got, err := tr.Predict([]float64{0.1})
	require.NoError(t, err)
	assert.Equal(t, "no", got)
}

func TestGobCodecRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.gob")
	require.NoError(t, os.WriteFile(path, []byte("not gob at all"), 0o644))
	ctx := loader.New(nil, nil)
	_, _, err := ctx.LoadModel(path)
	require.Error(t, err)
}
