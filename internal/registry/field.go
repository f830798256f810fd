package registry

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intake-cli/internal/model"
)

//go:embed registry.yaml
var embedded []byte

type registryFile struct {
	Fields []model.FieldSpec `yaml:"fields"`
}

var knownTypes = map[model.FieldType]bool{
	model.TypeText: true, model.TypeName: true, model.TypeEmail: true,
	model.TypePhone: true, model.TypePassport: true, model.TypeSex: true,
	model.TypeState: true, model.TypeZip: true, model.TypeDatePast: true,
	model.TypeDateFuture: true, model.TypeStreet: true, model.TypeUnit: true,
	model.TypeCity: true, model.TypeCountry: true, model.TypeAccountNumber: true,
	model.TypeCheckbox: true,
}

// Load returns the embedded field registry.
func Load() (*model.FieldRegistry, error) {
	return Parse(embedded)
}

// LoadFile reads a field registry from a YAML file. An empty path selects
// the embedded registry.
func LoadFile(path string) (*model.FieldRegistry, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read file")
	}
	return Parse(data)
}

// Parse decodes and validates a YAML field registry.
func Parse(data []byte) (*model.FieldRegistry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "registry: unmarshal")
	}
	if len(f.Fields) == 0 {
		return nil, eris.New("registry: no fields defined")
	}

	seen := make(map[string]bool, len(f.Fields))
	for _, spec := range f.Fields {
		if spec.Path == "" {
			return nil, eris.New("registry: field with empty path")
		}
		if seen[spec.Path] {
			return nil, eris.Errorf("registry: duplicate path %q", spec.Path)
		}
		seen[spec.Path] = true
		if spec.Document == "" {
			return nil, eris.Errorf("registry: %s: missing document", spec.Path)
		}
		if !knownTypes[spec.Type] {
			return nil, eris.Errorf("registry: %s: unknown type %q", spec.Path, spec.Type)
		}
	}
	for _, spec := range f.Fields {
		if spec.Mirrors != "" && !seen[spec.Mirrors] {
			return nil, eris.Errorf("registry: %s mirrors unknown path %q", spec.Path, spec.Mirrors)
		}
	}

	return model.NewFieldRegistry(f.Fields), nil
}
