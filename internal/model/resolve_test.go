package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xaiviz/internal/pickle"
)

func TestResolveKnownClasses(t *testing.T) {
	tests := []struct {
		module, name string
	}{
		{"sklearn.tree._classes", "DecisionTreeClassifier"},
		{"sklearn.tree.tree", "DecisionTreeClassifier"},
		{"sklearn.linear_model._logistic", "LogisticRegression"},
		{"sklearn.ensemble._forest", "RandomForestClassifier"},
		{"sklearn.tree._tree", "Tree"},
		{"numpy", "dtype"},
		{"numpy.core.multiarray", "_reconstruct"},
		{"joblib.numpy_pickle", "NumpyArrayWrapper"},
	}
	for _, tt := range tests {
		recon, err := Resolve(tt.module, tt.name)
		require.NoError(t, err, "%s.%s", tt.module, tt.name)
		require.NotNil(t, recon)
	}
}

func TestResolveUnknownClass(t *testing.T) {
	_, err := Resolve("sklearn.svm", "SVC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sklearn.svm")
}

// The legacy reconstructor delegates back into Resolve at decode time, so
// the table must be populated before any lookup runs.
func TestResolveLegacyReconstructorDelegates(t *testing.T) {
	for _, module := range []string{"copy_reg", "copyreg"} {
		recon, err := Resolve(module, "_reconstructor")
		require.NoError(t, err, module)
		v, err := recon(pickle.Tuple{
			pickle.Class{Module: "sklearn.linear_model._base", Name: "LinearRegression"},
			pickle.Class{Module: "builtins", Name: "object"},
			nil,
		})
		require.NoError(t, err)
		assert.IsType(t, &Linear{}, v)
	}
}

func TestResolveBuildsHandles(t *testing.T) {
	recon, err := Resolve("sklearn.tree._classes", "DecisionTreeClassifier")
	require.NoError(t, err)
	v, err := recon(nil)
	require.NoError(t, err)
	assert.IsType(t, &Tree{}, v)

	recon, err = Resolve("sklearn.linear_model._base", "LinearRegression")
	require.NoError(t, err)
	v, err = recon(nil)
	require.NoError(t, err)
	assert.IsType(t, &Linear{}, v)
}
