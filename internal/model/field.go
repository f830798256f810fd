package model

import (
	"sort"
	"strings"
)

// FieldType is the declared rule family for a registry field.
type FieldType string

// Field types understood by the rule validator.
const (
	TypeText          FieldType = "text"
	TypeName          FieldType = "name"
	TypeEmail         FieldType = "email"
	TypePhone         FieldType = "phone"
	TypePassport      FieldType = "passport_number"
	TypeSex           FieldType = "sex"
	TypeState         FieldType = "state"
	TypeZip           FieldType = "zip"
	TypeDatePast      FieldType = "date_past"
	TypeDateFuture    FieldType = "date_future"
	TypeStreet        FieldType = "street"
	TypeUnit          FieldType = "unit"
	TypeCity          FieldType = "city"
	TypeCountry       FieldType = "country"
	TypeAccountNumber FieldType = "account_number"
	TypeCheckbox      FieldType = "checkbox"
)

// FieldSpec is one entry of the static field registry.
type FieldSpec struct {
	Path          string    `json:"path" yaml:"path"`
	Document      string    `json:"document" yaml:"document"`
	Label         string    `json:"label" yaml:"label"`
	Type          FieldType `json:"type" yaml:"type"`
	Required      bool      `json:"required" yaml:"required"`
	HumanRequired bool      `json:"human_required" yaml:"human_required"`
	LabelHints    []string  `json:"label_hints,omitempty" yaml:"label_hints"`
	Mirrors       string    `json:"mirrors,omitempty" yaml:"mirrors"`
}

// Group returns the dotted prefix of the path (everything before the last
// segment), e.g. "g28.attorney.address" for "g28.attorney.address.city".
func (s FieldSpec) Group() string {
	if i := strings.LastIndexByte(s.Path, '.'); i > 0 {
		return s.Path[:i]
	}
	return s.Path
}

// FieldRegistry is an indexed collection of field specs.
type FieldRegistry struct {
	Fields     []FieldSpec
	byPath     map[string]*FieldSpec
	byDocument map[string][]*FieldSpec
	required   []*FieldSpec
	mirrored   map[string][]*FieldSpec
}

// NewFieldRegistry creates a FieldRegistry with indexed lookups.
func NewFieldRegistry(fields []FieldSpec) *FieldRegistry {
	r := &FieldRegistry{
		Fields:     fields,
		byPath:     make(map[string]*FieldSpec, len(fields)),
		byDocument: make(map[string][]*FieldSpec),
		mirrored:   make(map[string][]*FieldSpec),
	}
	for i := range r.Fields {
		f := &r.Fields[i]
		r.byPath[f.Path] = f
		r.byDocument[f.Document] = append(r.byDocument[f.Document], f)
		if f.Required {
			r.required = append(r.required, f)
		}
		if f.Mirrors != "" {
			r.mirrored[f.Mirrors] = append(r.mirrored[f.Mirrors], f)
		}
	}
	return r
}

// ByPath returns the spec for the given path, or nil if not found.
func (r *FieldRegistry) ByPath(path string) *FieldSpec {
	return r.byPath[path]
}

// ByDocument returns all specs belonging to a document type.
func (r *FieldRegistry) ByDocument(doc string) []*FieldSpec {
	return r.byDocument[doc]
}

// Required returns all required field specs.
func (r *FieldRegistry) Required() []*FieldSpec {
	return r.required
}

// MirroredBy returns the specs that mirror the given source path.
func (r *FieldRegistry) MirroredBy(path string) []*FieldSpec {
	return r.mirrored[path]
}

// Documents returns the sorted list of document types in the registry.
func (r *FieldRegistry) Documents() []string {
	docs := make([]string, 0, len(r.byDocument))
	for d := range r.byDocument {
		docs = append(docs, d)
	}
	sort.Strings(docs)
	return docs
}

// Paths returns every registered path in registry order.
func (r *FieldRegistry) Paths() []string {
	paths := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		paths[i] = f.Path
	}
	return paths
}
