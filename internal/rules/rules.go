// Package rules implements the tier-one deterministic validator: pure
// per-type format checks plus a few cross-field consistency checks.
package rules

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
)

var (
	reEmail    = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)
	rePassport = regexp.MustCompile(`^[A-Z0-9]{7,9}$`)
	reZipUS    = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	rePostal   = regexp.MustCompile(`^[A-Za-z0-9 -]{3,10}$`)
	reUnit     = regexp.MustCompile(`(?i)(^|[^a-z])(apt|ste|suite|flr|floor|unit|#)([^a-z]|$)`)
	reLetters2 = regexp.MustCompile(`\p{L}{2,}`)
	reDigit    = regexp.MustCompile(`\d`)
)

var headerTokens = []string{
	"form g-28",
	"notice of entry of appearance",
	"department of homeland security",
	"u.s. citizenship and immigration services",
	"uscis",
	"attorney or accredited representative",
}

var usStates = map[string]bool{
	"AL": true, "AK": true, "AZ": true, "AR": true, "CA": true, "CO": true, "CT": true,
	"DE": true, "DC": true, "FL": true, "GA": true, "HI": true, "ID": true, "IL": true,
	"IN": true, "IA": true, "KS": true, "KY": true, "LA": true, "ME": true, "MD": true,
	"MA": true, "MI": true, "MN": true, "MS": true, "MO": true, "MT": true, "NE": true,
	"NV": true, "NH": true, "NJ": true, "NM": true, "NY": true, "NC": true, "ND": true,
	"OH": true, "OK": true, "OR": true, "PA": true, "RI": true, "SC": true, "SD": true,
	"TN": true, "TX": true, "UT": true, "VT": true, "VA": true, "WA": true, "WV": true,
	"WI": true, "WY": true, "PR": true, "GU": true, "VI": true,
}

// Context carries the sibling values some rules depend on.
type Context struct {
	// Country is the country of the same address block, used by zip.
	Country string
	// Now anchors past/future date checks.
	Now time.Time
}

func valid(code, normalized, value string) model.RuleResult {
	r := model.RuleResult{Verdict: model.VerdictValid, Codes: []string{code}}
	if normalized != "" && normalized != value {
		r.Normalized = normalized
	}
	return r
}

func review(code, normalized string) model.RuleResult {
	return model.RuleResult{Verdict: model.VerdictNeedsReview, Codes: []string{code}, Normalized: normalized}
}

func invalid(code string) model.RuleResult {
	return model.RuleResult{Verdict: model.VerdictInvalid, Codes: []string{code}}
}

func looksLikeLabel(value string, hints []string) bool {
	if normalize.LooksLikeLabel(value, hints) {
		return true
	}
	lower := strings.ToLower(value)
	for _, tok := range headerTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func alphaRatio(s string) float64 {
	var letters, total int
	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			letters++
			total++
		case unicode.IsDigit(r):
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}

// Validate runs the rule for spec.Type against a non-empty value. Empty
// values have no rule verdict; callers skip them.
func Validate(spec *model.FieldSpec, value string, c Context) model.RuleResult {
	value = strings.TrimSpace(value)
	if value == "" {
		return invalid("empty")
	}
	if c.Now.IsZero() {
		c.Now = time.Now()
	}

	switch spec.Type {
	case model.TypeName:
		return validateName(value, spec.LabelHints)
	case model.TypeEmail:
		return validateEmail(value, spec.LabelHints)
	case model.TypePhone:
		return validatePhone(value, spec.LabelHints)
	case model.TypePassport:
		return validatePassport(value)
	case model.TypeSex:
		return validateSex(value)
	case model.TypeState:
		return validateState(value)
	case model.TypeZip:
		return validateZip(value, c.Country)
	case model.TypeDatePast, model.TypeDateFuture:
		return validateDate(value, spec.Type, c.Now)
	case model.TypeStreet:
		return validateStreet(value, spec.LabelHints)
	case model.TypeUnit:
		return validateUnit(value, spec.LabelHints, !spec.Required)
	case model.TypeCity:
		return validatePlace(value, spec.LabelHints, "city")
	case model.TypeCountry:
		r := validatePlace(value, spec.LabelHints, "country")
		if r.Verdict == model.VerdictValid {
			return valid("country_ok", normalize.Country(value), value)
		}
		return r
	case model.TypeAccountNumber:
		return validateAccountNumber(value, spec.LabelHints)
	case model.TypeCheckbox:
		return validateCheckbox(value)
	default:
		if looksLikeLabel(value, spec.LabelHints) {
			return invalid("label_noise")
		}
		return valid("text_ok", "", value)
	}
}

func validateName(v string, hints []string) model.RuleResult {
	switch {
	case looksLikeLabel(v, hints):
		return invalid("label_noise")
	case normalize.IsSymbolOnly(v):
		return invalid("name_length")
	case reDigit.MatchString(v):
		return invalid("name_numeric")
	case len([]rune(v)) < 2:
		return invalid("name_length")
	case len(strings.Fields(v)) > 6:
		return invalid("name_word_count")
	case alphaRatio(v) < 0.5:
		return invalid("name_format")
	}
	return valid("name_ok", normalize.Name(v), v)
}

func validateEmail(v string, hints []string) model.RuleResult {
	if looksLikeLabel(v, hints) {
		return invalid("email_label")
	}
	n := normalize.Email(strings.Join(strings.Fields(v), ""))
	if !reEmail.MatchString(n) {
		return invalid("email_format")
	}
	return valid("email_ok", n, v)
}

func validatePhone(v string, hints []string) model.RuleResult {
	if looksLikeLabel(v, hints) {
		return invalid("phone_label")
	}
	d := normalize.Digits(v)
	if len(d) < 7 || len(d) > 15 {
		return invalid("phone_format")
	}
	return valid("phone_ok", normalize.Phone(v), v)
}

func validatePassport(v string) model.RuleResult {
	n := normalize.PassportNumber(v)
	if !rePassport.MatchString(n) {
		return invalid("passport_format")
	}
	return valid("passport_ok", n, v)
}

func validateSex(v string) model.RuleResult {
	n := strings.ToUpper(v)
	switch n {
	case "MALE":
		n = "M"
	case "FEMALE":
		n = "F"
	}
	if n != "M" && n != "F" && n != "X" {
		return invalid("sex_value")
	}
	return valid("sex_ok", n, v)
}

func validateState(v string) model.RuleResult {
	raw := strings.ToUpper(v)
	if reDigit.MatchString(raw) || len(raw) < 2 {
		return invalid("state_format")
	}
	if len(raw) == 2 {
		return valid("state_ok", raw, v)
	}
	if len(raw) <= 30 && isAlphaSpace(raw) {
		return review("state_non_standard", normalize.Name(v))
	}
	return invalid("state_format")
}

func isAlphaSpace(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != ' ' {
			return false
		}
	}
	return true
}

func validateZip(v, country string) model.RuleResult {
	if reZipUS.MatchString(v) {
		return valid("zip_ok", "", v)
	}
	if strings.TrimSpace(country) != "" && !normalize.IsUS(country) && rePostal.MatchString(v) {
		return review("postal_ok", "")
	}
	return invalid("zip_format")
}

func validateDate(v string, typ model.FieldType, now time.Time) model.RuleResult {
	t, ok := normalize.ParseDate(v)
	if !ok {
		return invalid("date_format")
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if typ == model.TypeDatePast && t.After(today) {
		return invalid("date_future")
	}
	if typ == model.TypeDateFuture && t.Before(today) {
		return invalid("date_past")
	}
	return valid("date_ok", t.Format(normalize.ISODate), v)
}

func validateStreet(v string, hints []string) model.RuleResult {
	if looksLikeLabel(v, hints) {
		return invalid("address_label")
	}
	if !reLetters2.MatchString(v) {
		return invalid("address_street_format")
	}
	if !reDigit.MatchString(v) {
		return review("street_no_number", "")
	}
	return valid("address_street_ok", normalize.Collapse(v), v)
}

func validateUnit(v string, hints []string, optional bool) model.RuleResult {
	if optional && normalize.IsPlaceholder(v) {
		return valid("unit_placeholder", "", v)
	}
	if reUnit.MatchString(v) && reDigit.MatchString(v) {
		return valid("address_unit_ok", "", v)
	}
	if looksLikeLabel(v, hints) {
		return invalid("address_label")
	}
	if reUnit.MatchString(v) || reDigit.MatchString(v) {
		return valid("address_unit_ok", "", v)
	}
	return invalid("address_unit_format")
}

func validatePlace(v string, hints []string, kind string) model.RuleResult {
	if looksLikeLabel(v, hints) {
		return invalid("address_label")
	}
	if reDigit.MatchString(v) || !reLetters2.MatchString(v) {
		return invalid("address_" + kind + "_format")
	}
	return valid("address_"+kind+"_ok", "", v)
}

func validateAccountNumber(v string, hints []string) model.RuleResult {
	if looksLikeLabel(v, hints) {
		return invalid("label_noise")
	}
	d := normalize.Digits(v)
	if d == "" {
		return invalid("account_number_missing_digits")
	}
	if strings.IndexFunc(v, unicode.IsLetter) >= 0 || len(d) < 8 || len(d) > 15 {
		return review("account_number_unverified", "")
	}
	return valid("account_number_ok", d, v)
}

func validateCheckbox(v string) model.RuleResult {
	switch strings.ToLower(v) {
	case "true", "yes", "y", "x", "checked", "on", "1":
		return valid("checkbox_ok", "true", v)
	case "false", "no", "n", "unchecked", "off", "0":
		return valid("checkbox_ok", "false", v)
	}
	return invalid("checkbox_value")
}

// IsUSState reports whether s is a two-letter US state or territory code.
func IsUSState(s string) bool {
	return usStates[strings.ToUpper(strings.TrimSpace(s))]
}

// IsUSZip reports whether s is a US ZIP or ZIP+4.
func IsUSZip(s string) bool {
	return reZipUS.MatchString(strings.TrimSpace(s))
}
