package normalize

import (
	"regexp"
	"strings"
)

var placeholders = map[string]bool{
	"n/a": true, "na": true, "none": true, "not applicable": true,
	"not available": true, "unknown": true, "nil": true, "-": true,
}

// labelPhrases are form captions and instructions that extractors tend to
// capture instead of the value next to them.
var labelPhrases = []string{
	"uscis online account number",
	"online account number",
	"account number",
	"receipt number",
	"alien registration number",
	"a number",
	"if applicable",
	"if any",
	"ifapplicable",
	"ifany",
	"email address",
	"address if any",
	"street number and name",
	"street number",
	"number and name",
	"city or town",
	"zip code",
	"postal code",
	"usps zip code lookup",
	"family name",
	"given name",
	"middle name",
	"last name",
	"first name",
	"law firm name",
	"name of law firm",
	"organization name",
	"licensing authority",
	"bar number",
	"bar no",
	"daytime phone",
	"phone number",
	"mobile phone",
	"mobile number",
	"mobile telephone",
	"date of birth",
	"place of birth",
	"passport number",
	"form g 28",
	"uscis",
	"department of homeland security",
	"country",
	"state",
	"street",
	"address",
	"city",
	"town",
	"email",
	"phone",
	"telephone",
	"apt",
	"ste",
	"suite",
	"flr",
	"floor",
	"unit",
}

var labelWords = func() map[string]bool {
	words := make(map[string]bool)
	for _, p := range labelPhrases {
		for _, w := range strings.Fields(p) {
			words[w] = true
		}
	}
	return words
}()

var symbolsOnly = regexp.MustCompile(`^[^\p{L}\p{N}]+$`)

func simple(s string) string {
	return strings.Join(Tokens(s), " ")
}

// IsPlaceholder reports whether v is a filler such as "N/A" or "-", or
// consists only of symbols.
func IsPlaceholder(v string) bool {
	raw := strings.TrimSpace(v)
	if raw == "" {
		return false
	}
	if placeholders[strings.ToLower(raw)] {
		return true
	}
	s := simple(raw)
	if s == "" {
		return true
	}
	return placeholders[s] || placeholders[strings.ReplaceAll(s, " ", "")]
}

// IsSymbolOnly reports whether v has no letters or digits at all.
func IsSymbolOnly(v string) bool {
	return symbolsOnly.MatchString(strings.TrimSpace(v))
}

// LooksLikeLabel reports whether v resembles a captured form label or
// header rather than a value. hints are the field's own caption words.
func LooksLikeLabel(v string, hints []string) bool {
	raw := strings.TrimSpace(v)
	if raw == "" || IsPlaceholder(raw) || IsSymbolOnly(raw) {
		return raw != ""
	}
	s := simple(raw)
	if s == "" {
		return true
	}
	if strings.Contains(s, "if any") || strings.Contains(s, "if applicable") {
		return true
	}

	tokens := strings.Fields(s)
	padded := " " + s + " "
	for _, phrase := range labelPhrases {
		if s == phrase {
			return true
		}
		if strings.Count(phrase, " ") >= 1 && len(tokens) <= 4 && strings.Contains(padded, " "+phrase+" ") {
			return true
		}
	}

	for _, hint := range hints {
		h := Tokens(hint)
		if len(h) == 0 {
			continue
		}
		if s == strings.Join(h, " ") {
			return true
		}
		if subset(tokens, h) && len(tokens) <= len(h)+1 {
			return true
		}
	}

	if len(tokens) <= 4 {
		all := true
		for _, t := range tokens {
			if !labelWords[t] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func subset(values, of []string) bool {
	if len(values) == 0 {
		return false
	}
	set := make(map[string]bool, len(of))
	for _, t := range of {
		set[t] = true
	}
	for _, v := range values {
		if !set[v] {
			return false
		}
	}
	return true
}
