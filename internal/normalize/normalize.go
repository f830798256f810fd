// Package normalize holds the text canonicalization shared by scoring,
// conflict detection and the rule validator.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/intake-cli/internal/model"
)

var (
	spaceRun   = regexp.MustCompile(`\s+`)
	nonAlnum   = regexp.MustCompile(`[^a-z0-9]+`)
	nonDigit   = regexp.MustCompile(`\D`)
	mrzDateRaw = regexp.MustCompile(`^\d{6}$`)
)

// ISODate is the canonical date layout.
const ISODate = "2006-01-02"

var dateLayouts = []string{
	ISODate,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01-02-2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"02Jan2006",
}

var countryAliases = map[string]string{
	"US":                       "United States",
	"U.S.":                     "United States",
	"USA":                      "United States",
	"U.S.A.":                   "United States",
	"UNITED STATES":            "United States",
	"UNITED STATES OF AMERICA": "United States",
}

// Collapse trims s and collapses internal whitespace runs to one space.
func Collapse(s string) string {
	return spaceRun.ReplaceAllString(strings.TrimSpace(s), " ")
}

// FoldDiacritics strips combining marks, e.g. "García" becomes "Garcia".
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold case-folds, strips diacritics, and drops everything but letters and
// digits. Used for equality checks, never for display.
func Fold(s string) string {
	lower := cases.Fold().String(FoldDiacritics(s))
	return nonAlnum.ReplaceAllString(lower, "")
}

// Tokens returns the lower-cased alphanumeric words of s.
func Tokens(s string) []string {
	lower := strings.ToLower(FoldDiacritics(s))
	return strings.Fields(nonAlnum.ReplaceAllString(lower, " "))
}

// Key returns the comparison key of a value for the given field type.
// Two values with equal keys are considered the same value.
func Key(value string, typ model.FieldType) string {
	switch typ {
	case model.TypeDatePast, model.TypeDateFuture:
		if d, ok := Date(value); ok {
			return d
		}
	case model.TypePhone:
		return Digits(value)
	case model.TypeCountry:
		return Fold(Country(value))
	}
	return Fold(value)
}

// Name title-cases a personal name.
func Name(s string) string {
	return cases.Title(language.Und).String(strings.ToLower(Collapse(s)))
}

// Email lower-cases an email address.
func Email(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Digits returns only the decimal digits of s.
func Digits(s string) string {
	return nonDigit.ReplaceAllString(s, "")
}

// Phone formats 10-digit numbers (or 11 with a leading 1) as xxx-xxx-xxxx
// and otherwise returns the trimmed input.
func Phone(s string) string {
	d := Digits(s)
	if len(d) == 11 && d[0] == '1' {
		d = d[1:]
	}
	if len(d) == 10 {
		return d[0:3] + "-" + d[3:6] + "-" + d[6:]
	}
	return strings.TrimSpace(s)
}

// PassportNumber strips whitespace and upper-cases.
func PassportNumber(s string) string {
	return strings.ToUpper(spaceRun.ReplaceAllString(s, ""))
}

// Country maps common aliases of the United States to one spelling and
// title-cases everything else.
func Country(s string) string {
	c := Collapse(s)
	if alias, ok := countryAliases[strings.ToUpper(c)]; ok {
		return alias
	}
	return cases.Title(language.Und).String(strings.ToLower(c))
}

// IsUS reports whether a country value names the United States.
func IsUS(s string) bool {
	return Country(s) == "United States"
}

// Date parses s with the accepted layouts and returns it in ISO form.
func Date(s string) (string, bool) {
	t, ok := ParseDate(s)
	if !ok {
		return "", false
	}
	return t.Format(ISODate), true
}

// ParseDate parses s with the accepted layouts.
func ParseDate(s string) (time.Time, bool) {
	raw := Collapse(s)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MRZDate converts a machine-readable-zone YYMMDD date to ISO form. Years
// at or below the current two-digit year resolve to this century unless
// future is set, in which case any two-digit year resolves forward.
func MRZDate(s string, now time.Time, future bool) (string, bool) {
	if !mrzDateRaw.MatchString(s) {
		return "", false
	}
	yy := int(s[0]-'0')*10 + int(s[1]-'0')
	mm := int(s[2]-'0')*10 + int(s[3]-'0')
	dd := int(s[4]-'0')*10 + int(s[5]-'0')
	century := 1900
	if future || yy <= now.Year()%100 {
		century = 2000
	}
	t := time.Date(century+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if t.Month() != time.Month(mm) || t.Day() != dd {
		return "", false
	}
	return t.Format(ISODate), true
}
