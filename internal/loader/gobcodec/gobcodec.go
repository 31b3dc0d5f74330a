// Package gobcodec adds the Go-native gob artifact encoding to the loader's
// strategy chain. Importing it is what makes the codec available:
//
//	import _ "xaiviz/internal/loader/gobcodec"
package gobcodec

import (
	"bytes"
	"encoding/gob"

	"xaiviz/internal/loader"
	"xaiviz/internal/model"
)

func init() {
	loader.RegisterCodec("gob", loader.RankObjectCodec, func() []loader.Strategy {
		return []loader.Strategy{strategy{}}
	})
}

type strategy struct{}

func (strategy) Name() string { return "Go gob" }

// Attempt decodes a gob-encoded descriptor and reconstructs its handle.
func (strategy) Attempt(art *loader.Artifact) (any, error) {
	var d model.Descriptor
	if err := gob.NewDecoder(bytes.NewReader(art.Bytes)).Decode(&d); err != nil {
		return nil, err
	}
	return model.FromDescriptor(&d)
}
