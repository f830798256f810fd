package rules

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
)

// invalidConfidenceCap bounds the confidence of a field whose value fails
// its rule.
const invalidConfidenceCap = 0.3

var mrzLine = regexp.MustCompile(`^[A-Z0-9<]{44}$`)

// Validator applies tier-one rules across a run's field map.
type Validator struct {
	reg *model.FieldRegistry
	now func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithNow overrides the clock used by date rules.
func WithNow(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// NewValidator creates a Validator for the given registry.
func NewValidator(reg *model.FieldRegistry, opts ...Option) *Validator {
	v := &Validator{reg: reg, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Check validates a single value for path using the sibling values in
// fields for context. It does not mutate anything.
func (v *Validator) Check(path, value string, fields model.FieldMap) (model.RuleResult, error) {
	spec := v.reg.ByPath(path)
	if spec == nil {
		return model.RuleResult{}, model.ErrUnknownField
	}
	return Validate(spec, value, v.context(spec, fields)), nil
}

func (v *Validator) context(spec *model.FieldSpec, fields model.FieldMap) Context {
	c := Context{Now: v.now()}
	if spec.Type == model.TypeZip {
		if f, ok := fields[spec.Group()+".country"]; ok {
			c.Country = f.StringValue()
		}
	}
	return c
}

// Apply runs every rule over every non-empty field, then the cross-field
// checks, storing the verdict on each field. Fields a human confirmed are
// re-checked for display but their confidence is never touched; locked
// fields likewise keep their confidence. Returns warnings raised by the
// cross-field checks.
func (v *Validator) Apply(fields model.FieldMap) []model.Warning {
	for _, spec := range v.reg.Fields {
		f, ok := fields[spec.Path]
		if !ok {
			continue
		}
		if !f.HasValue() {
			f.Rule = nil
			continue
		}
		r := Validate(&spec, f.StringValue(), v.context(&spec, fields))
		f.Rule = &r
	}

	var warnings []model.Warning
	warnings = append(warnings, v.checkMRZ(fields)...)
	warnings = append(warnings, checkAttorneyCountry(fields)...)

	for _, f := range fields {
		if f.Rule != nil && f.Rule.Verdict == model.VerdictInvalid && !f.Locked && f.Confidence > invalidConfidenceCap {
			f.Confidence = invalidConfidenceCap
		}
	}
	return warnings
}

func markInvalid(f *model.Field, code string) {
	if f.Rule == nil {
		f.Rule = &model.RuleResult{}
	}
	f.Rule.Verdict = model.VerdictInvalid
	f.Rule.Normalized = ""
	for _, c := range f.Rule.Codes {
		if c == code {
			return
		}
	}
	f.Rule.Codes = append(f.Rule.Codes, code)
}

func markReview(f *model.Field, code string) {
	if f.Rule == nil {
		f.Rule = &model.RuleResult{}
	}
	if f.Rule.Verdict != model.VerdictInvalid {
		f.Rule.Verdict = model.VerdictNeedsReview
	}
	for _, c := range f.Rule.Codes {
		if c == code {
			return
		}
	}
	f.Rule.Codes = append(f.Rule.Codes, code)
}

// MRZLines returns the last two 44-character machine-readable-zone lines
// found in text, or nil.
func MRZLines(text string) []string {
	var lines []string
	for _, raw := range strings.Split(text, "\n") {
		line := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", ""))
		if mrzLine.MatchString(line) {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil
	}
	return lines[len(lines)-2:]
}

// CheckDigit computes the ICAO 9303 check digit of s (weights 7,3,1).
func CheckDigit(s string) byte {
	weights := [3]int{7, 3, 1}
	total := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		var n int
		switch {
		case c >= '0' && c <= '9':
			n = int(c - '0')
		case c >= 'A' && c <= 'Z':
			n = int(c-'A') + 10
		default:
			n = 0
		}
		total += n * weights[i%3]
	}
	return byte('0' + total%10)
}

func validCheckDigit(s string, digit byte) bool {
	if digit == '<' {
		return false
	}
	return CheckDigit(s) == digit
}

// MRZChecks verifies the passport number, birth date and expiry check
// digits on the second MRZ line. The map is keyed by passport field name.
func MRZChecks(lines []string) map[string]bool {
	if len(lines) < 2 || len(lines[1]) < 44 {
		return nil
	}
	l := lines[1]
	return map[string]bool{
		"passport_number":    validCheckDigit(l[0:9], l[9]),
		"date_of_birth":      validCheckDigit(l[13:19], l[19]),
		"date_of_expiration": validCheckDigit(l[21:27], l[27]),
	}
}

func (v *Validator) checkMRZ(fields model.FieldMap) []model.Warning {
	var lines []string
	for _, spec := range v.reg.ByDocument("passport") {
		f, ok := fields[spec.Path]
		if !ok || f.Evidence == "" {
			continue
		}
		if lines = MRZLines(f.Evidence); lines != nil {
			break
		}
	}
	if lines == nil {
		return nil
	}

	checks := MRZChecks(lines)
	var warnings []model.Warning
	for _, name := range []string{"passport_number", "date_of_birth", "date_of_expiration"} {
		if checks[name] {
			continue
		}
		path := "passport." + name
		f, exists := fields[path]
		if !exists || !f.HasValue() {
			continue
		}
		markInvalid(f, "mrz_check_digit")
		warnings = append(warnings, model.Warning{
			Code:    "mrz_check_digit",
			Field:   path,
			Message: "machine-readable zone check digit does not match",
		})
		zap.L().Debug("rules: mrz check digit mismatch", zap.String("path", path))
	}
	return warnings
}

func checkAttorneyCountry(fields model.FieldMap) []model.Warning {
	const prefix = "g28.attorney.address."
	country, ok := fields[prefix+"country"]
	if !ok || !country.HasValue() || country.Rule == nil || country.Rule.Verdict == model.VerdictInvalid {
		return nil
	}
	if country.Rule.Normalized == "United States" || strings.EqualFold(country.StringValue(), "United States") {
		return nil
	}
	state, zip := fields[prefix+"state"], fields[prefix+"zip"]
	usState := state != nil && IsUSState(state.StringValue())
	usZip := zip != nil && IsUSZip(zip.StringValue())
	if !usState && !usZip {
		return nil
	}
	markReview(country, "country_mismatch")
	return []model.Warning{{
		Code:    "country_mismatch",
		Field:   prefix + "country",
		Message: "country is not United States but state or ZIP is a US value",
	}}
}
