package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xaiviz/internal/controller"
	"xaiviz/internal/event"
	"xaiviz/internal/loader"
	"xaiviz/internal/model"
)

func testController(t *testing.T, load bool) *controller.Controller {
	t.Helper()
	c := controller.New(loader.New(nil, nil))
	if !load {
		return c
	}
	d := model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "decision_tree",
		FeatureNames:  []string{"f0"},
		Classes:       []string{"no", "yes"},
		NFeatures:     1,
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{0, -2, -2},
		Threshold:     []float64{0.5, -2, -2},
		Value:         [][]float64{{5, 5}, {4, 1}, {1, 4}},
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tree.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	_, err = c.LoadModel(path)
	require.NoError(t, err)
	return c
}

func TestStateAPIWithoutModel(t *testing.T) {
	d := New(testController(t, false), event.NewBus(), 0)
	rec := httptest.NewRecorder()
	d.handleStateAPI(rec, httptest.NewRequest("GET", "/api/state", nil))

	var s State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.False(t, s.Loaded)
	assert.Empty(t, s.Path)
}

func TestStateAPIWithModel(t *testing.T) {
	d := New(testController(t, true), event.NewBus(), 0)
	rec := httptest.NewRecorder()
	d.handleStateAPI(rec, httptest.NewRequest("GET", "/api/state", nil))

	var s State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	assert.True(t, s.Loaded)
	assert.Equal(t, "JSON descriptor", s.Strategy)
	assert.Equal(t, "Tree", s.ModelType)
	assert.Equal(t, []string{"f0"}, s.Schema)
}

func TestSnapshotTracksLastPrediction(t *testing.T) {
	ctrl := testController(t, true)
	d := New(ctrl, event.NewBus(), 0)

	d.labelMu.Lock()
	d.lastLabel = "yes"
	d.labelMu.Unlock()

	s := d.snapshot()
	assert.Equal(t, "yes", s.LastLabel)
	assert.True(t, s.Loaded)
}
