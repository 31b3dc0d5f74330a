// Command genmodel writes the sample model artifacts under models/ in every
// encoding the loader understands: JSON and gob descriptors, plain pickled
// descriptors, and a legacy artifact only decodable under the latin1 text
// encoding.
package main

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"flag"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"xaiviz/internal/model"
	"xaiviz/internal/pickle"
)

func main() {
	outDir := flag.String("out", "models", "output directory for sample artifacts")
	flag.Parse()

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *outDir).Msg("cannot create output directory")
	}

	write(*outDir, "tree.json", encodeJSON(sampleTree()))
	write(*outDir, "tree.gob", encodeGob(sampleTree()))
	write(*outDir, "tree.pkl", encodePickle(descriptorDict(sampleTree()), false))
	write(*outDir, "linear.pkl", encodePickle(descriptorDict(sampleLinear()), false))
	write(*outDir, "forest.json", encodeJSON(sampleForest()))
	write(*outDir, "legacy_latin1.pkl", encodePickle(descriptorDict(legacyTree()), true))
}

func write(dir, name string, data []byte) {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("write failed")
	}
	log.Info().Str("path", path).Int("bytes", len(data)).Msg("artifact written")
}

// sampleTree is a small iris-style classifier: petal length splits off the
// first class, petal width separates the other two.
func sampleTree() *model.Descriptor {
	return &model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "decision_tree",
		FeatureNames:  []string{"sepal_length", "sepal_width", "petal_length", "petal_width"},
		Classes:       []string{"setosa", "versicolor", "virginica"},
		NFeatures:     4,
		ChildrenLeft:  []int{1, -1, 3, -1, -1},
		ChildrenRight: []int{2, -1, 4, -1, -1},
		Feature:       []int{2, -2, 3, -2, -2},
		Threshold:     []float64{2.45, -2, 1.75, -2, -2},
		Value: [][]float64{
			{50, 50, 50},
			{50, 0, 0},
			{0, 50, 50},
			{0, 49, 5},
			{0, 1, 45},
		},
	}
}

func sampleLinear() *model.Descriptor {
	return &model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "linear",
		FeatureNames:  []string{"sepal_length", "sepal_width", "petal_length", "petal_width"},
		Classes:       []string{"setosa", "versicolor", "virginica"},
		NFeatures:     4,
		Coef: [][]float64{
			{-0.42, 0.97, -2.52, -1.08},
			{0.53, -0.32, -0.21, -0.94},
			{-0.11, -0.65, 2.73, 2.02},
		},
		Intercept: []float64{9.85, 2.24, -12.09},
	}
}

func sampleForest() *model.Descriptor {
	first := sampleTree()
	// A shallower second member that only trusts petal width.
	second := &model.Descriptor{
		ModelType:     "decision_tree",
		ChildrenLeft:  []int{1, -1, 3, -1, -1},
		ChildrenRight: []int{2, -1, 4, -1, -1},
		Feature:       []int{3, -2, 3, -2, -2},
		Threshold:     []float64{0.8, -2, 1.75, -2, -2},
		Value: [][]float64{
			{50, 50, 50},
			{50, 0, 0},
			{0, 50, 50},
			{0, 47, 7},
			{0, 3, 43},
		},
	}
	return &model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "forest",
		FeatureNames:  first.FeatureNames,
		Classes:       first.Classes,
		NFeatures:     4,
		Trees:         []model.Descriptor{*first, *second},
	}
}

// legacyTree carries accented class labels, so its 8-bit pickle form only
// decodes under the latin1 text encoding.
func legacyTree() *model.Descriptor {
	return &model.Descriptor{
		SchemaVersion: model.DescriptorVersion,
		ModelType:     "decision_tree",
		FeatureNames: []string{
			"anciennete", "mensualite", "incidents", "appels_support",
			"engagement", "remise", "usage_data", "usage_voix",
			"age", "score_credit",
		},
		Classes:       []string{"retenu", "résilié"},
		NFeatures:     10,
		ChildrenLeft:  []int{1, -1, -1},
		ChildrenRight: []int{2, -1, -1},
		Feature:       []int{2, -2, -2},
		Threshold:     []float64{1.5, -2, -2},
		Value: [][]float64{
			{120, 80},
			{110, 20},
			{10, 60},
		},
	}
}

func encodeJSON(d *model.Descriptor) []byte {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("json encode failed")
	}
	return data
}

func encodeGob(d *model.Descriptor) []byte {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		log.Fatal().Err(err).Msg("gob encode failed")
	}
	return buf.Bytes()
}

func encodePickle(dict map[string]any, eightBit bool) []byte {
	var buf bytes.Buffer
	enc := pickle.NewEncoder(&buf)
	enc.EightBitStrings = eightBit
	if err := enc.Encode(dict); err != nil {
		log.Fatal().Err(err).Msg("pickle encode failed")
	}
	return buf.Bytes()
}

// descriptorDict renders a descriptor as the plain dict payload shape the
// pickle strategies normalize.
func descriptorDict(d *model.Descriptor) map[string]any {
	m := map[string]any{
		"schema_version": d.SchemaVersion,
		"model_type":     d.ModelType,
	}
	if len(d.FeatureNames) > 0 {
		m["feature_names"] = d.FeatureNames
	}
	if len(d.Classes) > 0 {
		m["classes"] = d.Classes
	}
	if d.NFeatures > 0 {
		m["n_features"] = d.NFeatures
	}
	if len(d.Coef) > 0 {
		m["coef"] = matrixToAny(d.Coef)
		m["intercept"] = d.Intercept
	}
	if len(d.ChildrenLeft) > 0 {
		m["children_left"] = d.ChildrenLeft
		m["children_right"] = d.ChildrenRight
		m["feature"] = d.Feature
		m["threshold"] = d.Threshold
		m["value"] = matrixToAny(d.Value)
	}
	if len(d.Trees) > 0 {
		trees := make([]any, len(d.Trees))
		for i := range d.Trees {
			trees[i] = descriptorDict(&d.Trees[i])
		}
		m["trees"] = trees
	}
	return m
}

func matrixToAny(rows [][]float64) []any {
	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = row
	}
	return out
}
