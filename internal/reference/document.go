// Package reference holds the reference ranges and category weights the
// scoring engine resolves per tenant, with system defaults as fallback.
package reference

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/health-engine/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Document is the on-disk form of a reference set.
type Document struct {
	CategoryWeights map[string]float64     `yaml:"category_weights"`
	ReferenceRanges []model.ReferenceRange `yaml:"reference_ranges"`
}

// Parse decodes a YAML reference document and normalizes unit labels.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "reference: parse document")
	}
	for i := range doc.ReferenceRanges {
		doc.ReferenceRanges[i].Unit = model.ParseUnit(string(doc.ReferenceRanges[i].Unit))
	}
	return &doc, nil
}

// LoadFile reads a reference document from path.
func LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "reference: read document %s", path)
	}
	return Parse(data)
}

// Defaults returns the embedded system default document.
func Defaults() (*Document, error) {
	return Parse(defaultsYAML)
}

// Weights converts the document's snake_case weight keys into categories.
// Categories the document omits keep their system default weight.
func (d *Document) Weights() (map[model.Category]float64, error) {
	out := model.DefaultCategoryWeights()
	for key, w := range d.CategoryWeights {
		c, ok := model.ParseCategory(key)
		if !ok {
			return nil, eris.Errorf("reference: unknown category %q in weights", key)
		}
		out[c] = w
	}
	return out, nil
}

// Load returns the reference set for path, or the embedded defaults when
// path is empty. A file replaces the defaults wholesale.
func Load(path string) (*Set, error) {
	var (
		doc *Document
		err error
	)
	if path == "" {
		doc, err = Defaults()
	} else {
		doc, err = LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}
	return doc.Set()
}

// Set builds the lookup structures for the document.
func (d *Document) Set() (*Set, error) {
	weights, err := d.Weights()
	if err != nil {
		return nil, err
	}
	return &Set{
		Ranges:  NewCatalog(d.ReferenceRanges...),
		Weights: NewWeightProfile(weights),
	}, nil
}
