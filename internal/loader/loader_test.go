package loader

import (
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xaiviz/internal/model"
	"xaiviz/internal/pickle"
)

type fakeMetrics struct {
	mu        sync.Mutex
	attempts  []string
	successes []string
	failures  int
}

func (f *fakeMetrics) LoadSuccessInc(strategy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, strategy)
}

func (f *fakeMetrics) LoadFailureInc() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

func (f *fakeMetrics) StrategyAttemptInc(strategy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts = append(f.attempts, strategy)
}

func writeArtifact(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pickleDict(t *testing.T, dict map[string]any, eightBit bool) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := pickle.NewEncoder(&buf)
	enc.EightBitStrings = eightBit
	require.NoError(t, enc.Encode(dict))
	return buf.Bytes()
}

func smallTreeDict() map[string]any {
	return map[string]any{
		"schema_version": 1,
		"model_type":     "decision_tree",
		"feature_names":  []string{"f0"},
		"classes":        []string{"no", "yes"},
		"n_features":     1,
		"children_left":  []int{1, -1, -1},
		"children_right": []int{2, -1, -1},
		"feature":        []int{0, -2, -2},
		"threshold":      []float64{0.5, -2, -2},
		"value":          []any{[]float64{5, 5}, []float64{4, 1}, []float64{1, 4}},
	}
}

func TestLoadModelFileAccessError(t *testing.T) {
	fm := &fakeMetrics{}
	ctx := New(nil, fm)
	_, _, err := ctx.LoadModel(filepath.Join(t.TempDir(), "missing.pkl"))
	require.Error(t, err)

	var fae *FileAccessError
	require.True(t, errors.As(err, &fae))
	// No strategy runs when the artifact cannot be read.
	assert.Empty(t, fm.attempts)
	assert.Equal(t, 1, fm.failures)
}

func TestLoadModelShortCircuits(t *testing.T) {
	path := writeArtifact(t, "tree.pkl", pickleDict(t, smallTreeDict(), false))
	fm := &fakeMetrics{}
	ctx := New(nil, fm)

	handle, strategy, err := ctx.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "joblib (memory)", strategy)
	assert.Equal(t, []string{"joblib (memory)"}, fm.attempts)
	assert.Equal(t, []string{"joblib (memory)"}, fm.successes)

	tr, ok := handle.(*model.Tree)
	require.True(t, ok)
	got, err := tr.Predict([]float64{0.9})
	require.NoError(t, err)
	assert.Equal(t, "yes", got)
}

func TestLoadModelLatin1Fallback(t *testing.T) {
	// Accented class labels make the 8-bit stream unreadable under the
	// 7-bit defaults; the latin1 pickle strategy is the first that works.
	dict := smallTreeDict()
	dict["classes"] = []string{"retenu", "résilié"}
	path := writeArtifact(t, "legacy.pkl", pickleDict(t, dict, true))
	fm := &fakeMetrics{}
	ctx := New(nil, fm)

	handle, strategy, err := ctx.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "Standard pickle (latin1)", strategy)
	assert.Equal(t, []string{
		"joblib (memory)",
		"joblib (file)",
		"Standard pickle (latin1)",
	}, fm.attempts)

	tr, ok := handle.(*model.Tree)
	require.True(t, ok)
	assert.Equal(t, []string{"retenu", "résilié"}, tr.Classes)
}

func TestLoadModelAggregatesFailures(t *testing.T) {
	path := writeArtifact(t, "garbage.bin", []byte("definitely not a pickle"))
	fm := &fakeMetrics{}
	ctx := New(nil, fm)

	_, _, err := ctx.LoadModel(path)
	require.Error(t, err)

	var agg *AggregatedError
	require.True(t, errors.As(err, &agg))
	names := make([]string, len(agg.Attempts))
	for i, a := range agg.Attempts {
		names[i] = a.Strategy
	}
	assert.Equal(t, []string{
		"joblib (memory)",
		"joblib (file)",
		"Standard pickle (latin1)",
		"Standard pickle (bytes)",
		"Standard pickle (ascii)",
		"Custom unpickler",
	}, names)
	assert.Equal(t, 1, fm.failures)
	assert.Contains(t, err.Error(), RegenerateHint)
}

func TestCustomUnpicklerRecoversUnknownClass(t *testing.T) {
	obj := &pickle.Object{
		Module: "sklearn.svm",
		Name:   "SVC",
		Fields: map[string]any{"n_features_in_": 4},
	}
	var buf bytes.Buffer
	require.NoError(t, pickle.NewEncoder(&buf).Encode(obj))
	path := writeArtifact(t, "svc.pkl", buf.Bytes())

	ctx := New(nil, nil)
	handle, strategy, err := ctx.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "Custom unpickler", strategy)

	out, ok := handle.(*pickle.Object)
	require.True(t, ok)
	assert.Equal(t, "SVC", out.Name)
}

func TestLoadModelGzippedArtifact(t *testing.T) {
	raw := pickleDict(t, smallTreeDict(), false)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(raw)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	path := writeArtifact(t, "tree.pkl.gz", buf.Bytes())

	ctx := New(nil, nil)
	handle, strategy, err := ctx.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, "joblib (memory)", strategy)
	assert.IsType(t, &model.Tree{}, handle)
}

func TestRemoteWithoutFetcher(t *testing.T) {
	ctx := New(nil, nil)
	_, _, err := ctx.LoadModel("https://example.com/model.pkl")
	require.Error(t, err)
	var fae *FileAccessError
	require.True(t, errors.As(err, &fae))
	assert.ErrorIs(t, err, errRemoteDisabled)
}
