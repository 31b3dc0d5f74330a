// Package loader implements the resilient model acquisition pipeline: a
// fixed-priority chain of decoding strategies tried against an artifact of
// unknown serialization scheme, returning the first success or an
// aggregated report of every failure.
package loader

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"os"

	"xaiviz/internal/model"
	"xaiviz/internal/pickle"
)

// Artifact is the raw material of one load call: the path plus the bytes
// read once up front. It lives for the duration of the call only.
type Artifact struct {
	Path   string
	Bytes  []byte
	Remote bool
}

// Strategy is one decoding scheme. Attempt must be side-effect-free on
// failure; any fault is reported as an error, never raised further.
type Strategy interface {
	Name() string
	Attempt(art *Artifact) (any, error)
}

// fileBacked marks strategies that re-read the artifact from disk and are
// therefore skipped for remote artifacts.
type fileBacked interface {
	FileBacked() bool
}

// joblibStrategy decodes the array-aware container format: an optionally
// compressed stream whose pickled graph interleaves raw array payloads.
// It is the preferred strategy for models holding large numeric arrays.
// The backing decoder uses the format's fixed default text acceptance
// (7-bit), matching the original tool.
type joblibStrategy struct {
	fromFile bool
}

func (s joblibStrategy) Name() string {
	if s.fromFile {
		return "joblib (file)"
	}
	return "joblib (memory)"
}

func (s joblibStrategy) FileBacked() bool { return s.fromFile }

func (s joblibStrategy) Attempt(art *Artifact) (any, error) {
	var src io.Reader
	if s.fromFile {
		f, err := os.Open(art.Path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src = f
	} else {
		src = bytes.NewReader(art.Bytes)
	}
	r, err := decompress(bufio.NewReader(src))
	if err != nil {
		return nil, err
	}
	v, err := pickle.NewDecoder(r, pickle.Strict, model.Resolve).Decode()
	if err != nil {
		return nil, err
	}
	return model.Normalize(v)
}

// decompress peeks at the magic bytes and unwraps gzip or zlib containers;
// anything else passes through untouched.
func decompress(r *bufio.Reader) (io.Reader, error) {
	magic, err := r.Peek(2)
	if err != nil {
		return nil, fmt.Errorf("artifact too short")
	}
	switch {
	case magic[0] == 0x1f && magic[1] == 0x8b:
		return gzip.NewReader(r)
	case magic[0] == 0x78:
		return zlib.NewReader(r)
	default:
		return r, nil
	}
}

// pickleStrategy is generic object-graph deserialization with a
// caller-selected text encoding, bridging cross-version string encoding
// mismatches.
type pickleStrategy struct {
	mode pickle.StringMode
}

func (s pickleStrategy) Name() string {
	return fmt.Sprintf("Standard pickle (%s)", s.mode)
}

func (s pickleStrategy) Attempt(art *Artifact) (any, error) {
	v, err := pickle.Decode(art.Bytes, s.mode, model.Resolve)
	if err != nil {
		return nil, err
	}
	return model.Normalize(v)
}

// customUnpicklerStrategy is the last resort: slowest and most permissive.
// Unknown class references are materialized as generic objects instead of
// failing, and every text encoding is tried in turn until one parses.
type customUnpicklerStrategy struct{}

func (customUnpicklerStrategy) Name() string { return "Custom unpickler" }

func (customUnpicklerStrategy) Attempt(art *Artifact) (any, error) {
	resolve := pickle.PermissiveResolver(model.Resolve)
	modes := []pickle.StringMode{pickle.Latin1, pickle.Bytes, pickle.ASCII, pickle.Strict}
	var lastErr error
	for _, mode := range modes {
		v, err := pickle.Decode(art.Bytes, mode, resolve)
		if err == nil {
			return model.Normalize(v)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("all encodings failed: %w", lastErr)
}
