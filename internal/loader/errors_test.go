package loader

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadErrorTruncatesMessage(t *testing.T) {
	long := strings.Repeat("x", 200)
	le := newLoadError("Standard pickle (latin1)", errors.New(long))
	assert.Len(t, le.Message, maxFailureMessage)

	short := newLoadError("joblib (memory)", errors.New("nope"))
	assert.Equal(t, "nope", short.Message)
	assert.Equal(t, "joblib (memory): nope", short.Error())
}

func TestLoadErrorTruncatesOnRuneBoundary(t *testing.T) {
	// A two-byte rune straddles the cap; the cut must land before it.
	long := strings.Repeat("x", maxFailureMessage-1) + "é" + strings.Repeat("x", 20)
	le := newLoadError("Standard pickle (latin1)", errors.New(long))
	assert.True(t, utf8.ValidString(le.Message))
	assert.Len(t, le.Message, maxFailureMessage-1)
}

func TestFileAccessErrorUnwraps(t *testing.T) {
	inner := errors.New("permission denied")
	err := &FileAccessError{Path: "/models/a.pkl", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "/models/a.pkl")
}

func TestAggregatedErrorReport(t *testing.T) {
	agg := &AggregatedError{
		Path: "model.pkl",
		Attempts: []LoadError{
			{Strategy: "joblib (memory)", Message: "bad header"},
			{Strategy: "Custom unpickler", Message: "all encodings failed"},
		},
	}
	msg := agg.Error()
	require.Contains(t, msg, "failed to load model with all strategies")
	assert.Contains(t, msg, "  joblib (memory): bad header")
	assert.Contains(t, msg, "  Custom unpickler: all encodings failed")
	assert.Contains(t, msg, RegenerateHint)

	// Strategies appear in attempt order.
	assert.Less(t,
		strings.Index(msg, "joblib (memory)"),
		strings.Index(msg, "Custom unpickler"))
}

func TestRegistryChainOrder(t *testing.T) {
	names := newRegistry(nil).Names()
	assert.Equal(t, []string{
		"joblib (memory)",
		"joblib (file)",
		"Standard pickle (latin1)",
		"Standard pickle (bytes)",
		"Standard pickle (ascii)",
		"Custom unpickler",
	}, names)
}

func TestRegistryOptionalCodecSlot(t *testing.T) {
	extra := []Strategy{stubStrategy{"Go gob"}}
	names := newRegistry(extra).Names()
	require.Len(t, names, 7)
	// Optional codecs sit between the pickle encodings and the last resort.
	assert.Equal(t, "Go gob", names[5])
	assert.Equal(t, "Custom unpickler", names[6])
}

type stubStrategy struct{ name string }

func (s stubStrategy) Name() string { return s.name }
func (s stubStrategy) Attempt(*Artifact) (any, error) {
	return nil, fmt.Errorf("stub")
}
