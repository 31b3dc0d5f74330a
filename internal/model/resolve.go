package model

import (
	"fmt"

	"xaiviz/internal/pickle"
)

// reconstructors maps pickled class references to their builders. Module
// paths cover the spellings that different library generations used for the
// same classes. Populated in init so plainReconstructor may call Resolve
// without a package initialization cycle.
var reconstructors map[string]pickle.Reconstructor

func init() {
	reconstructors = map[string]pickle.Reconstructor{
		// Array machinery.
		"numpy.core.multiarray/_reconstruct":  reconstructNDArray,
		"numpy._core.multiarray/_reconstruct": reconstructNDArray,
		"numpy.core.multiarray/scalar":        reconstructScalar,
		"numpy._core.multiarray/scalar":       reconstructScalar,
		"numpy/dtype":                         newDtype,
		"numpy/ndarray":                       classOnly("numpy", "ndarray"),
		"numpy.core.numeric/_frombuffer":      frombuffer,
		"numpy._core.numeric/_frombuffer":     frombuffer,

		// Array-aware container wrappers.
		"joblib.numpy_pickle/NumpyArrayWrapper": newArrayWrapper,
		"joblib.numpy_pickle/NDArrayWrapper":    newArrayWrapper,

		// Estimators.
		"sklearn.tree._classes/DecisionTreeClassifier":      newTreeClassifier,
		"sklearn.tree._classes/DecisionTreeRegressor":       newTreeClassifier,
		"sklearn.tree.tree/DecisionTreeClassifier":          newTreeClassifier,
		"sklearn.tree._tree/Tree":                           newFittedTree,
		"sklearn.linear_model._logistic/LogisticRegression": newLinear,
		"sklearn.linear_model.logistic/LogisticRegression":  newLinear,
		"sklearn.linear_model._base/LinearRegression":       newLinear,
		"sklearn.ensemble._forest/RandomForestClassifier":   newForest,
		"sklearn.ensemble.forest/RandomForestClassifier":    newForest,

		// Plumbing seen in older streams.
		"copy_reg/_reconstructor": plainReconstructor,
		"copyreg/_reconstructor":  plainReconstructor,
		"__builtin__/object":      classOnly("builtins", "object"),
		"builtins/object":         classOnly("builtins", "object"),
	}
}

// Resolve is the strict resolver: it covers exactly the classes of the
// versioned schema contract and rejects everything else.
func Resolve(module, name string) (pickle.Reconstructor, error) {
	if recon, ok := reconstructors[module+"/"+name]; ok {
		return recon, nil
	}
	return nil, fmt.Errorf("unsupported class %s.%s", module, name)
}

// classOnly resolves a class that may appear as an argument to another
// reconstructor but is never instantiated itself.
func classOnly(module, name string) pickle.Reconstructor {
	return func(pickle.Tuple) (any, error) {
		return nil, fmt.Errorf("%s.%s cannot be instantiated directly", module, name)
	}
}

// plainReconstructor handles the legacy (class, base, state) construction
// protocol by delegating to the class's own builder.
func plainReconstructor(args pickle.Tuple) (any, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("reconstructor without a class")
	}
	cls, ok := args[0].(pickle.Class)
	if !ok {
		return nil, fmt.Errorf("reconstructor class is %T", args[0])
	}
	recon, err := Resolve(cls.Module, cls.Name)
	if err != nil {
		return nil, err
	}
	return recon(nil)
}

// frombuffer rebuilds an array from (data, dtype, shape).
func frombuffer(args pickle.Tuple) (any, error) {
	if len(args) < 3 {
		return nil, fmt.Errorf("_frombuffer wants 3 args, got %d", len(args))
	}
	raw, ok := args[0].([]byte)
	if !ok {
		return nil, fmt.Errorf("_frombuffer data is %T", args[0])
	}
	dt, ok := args[1].(*Dtype)
	if !ok {
		return nil, fmt.Errorf("_frombuffer dtype is %T", args[1])
	}
	shape, ok := asInts(args[2])
	if !ok {
		return nil, fmt.Errorf("_frombuffer shape is %T", args[2])
	}
	arr := &NDArray{Shape: shape, Dtype: dt}
	if err := arr.fill(raw); err != nil {
		return nil, err
	}
	return arr, nil
}
