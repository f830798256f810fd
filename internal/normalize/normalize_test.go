package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intake-cli/internal/model"
)

func TestFold(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "garcia", Fold(" García "))
	assert.Equal(t, "garcialopez", Fold("GARCIA-LOPEZ"))
	assert.Equal(t, Fold("Mary Ann"), Fold("mary-ann"))
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		typ  model.FieldType
		same bool
	}{
		{"case and punctuation", "O'Neil", "ONEIL", model.TypeName, true},
		{"different names", "GARCIA", "GARCIA-LOPEZ", model.TypeName, false},
		{"date formats", "1990-03-15", "03/15/1990", model.TypeDatePast, true},
		{"date textual", "15 MAR 1990", "1990-03-15", model.TypeDatePast, true},
		{"phone formatting", "(212) 555-0100", "212.555.0100", model.TypePhone, true},
		{"country alias", "USA", "United States of America", model.TypeCountry, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.same, Key(tt.a, tt.typ) == Key(tt.b, tt.typ))
		})
	}
}

func TestFormatters(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Maria Garcia", Name("  MARIA   garcia "))
	assert.Equal(t, "a@b.com", Email(" A@B.Com "))
	assert.Equal(t, "212-555-0100", Phone("+1 (212) 555 0100"))
	assert.Equal(t, "12345", Phone("12345"))
	assert.Equal(t, "X1234567", PassportNumber("x12 345 67"))
	assert.Equal(t, "United States", Country("u.s.a."))
	assert.Equal(t, "Mexico", Country("MEXICO"))
	assert.True(t, IsUS("US"))
	assert.False(t, IsUS("Canada"))
}

func TestDate(t *testing.T) {
	t.Parallel()

	d, ok := Date("1/2/2006")
	assert.True(t, ok)
	assert.Equal(t, "2006-01-02", d)

	_, ok = Date("not a date")
	assert.False(t, ok)

	_, ok = Date("")
	assert.False(t, ok)
}

func TestMRZDate(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)

	d, ok := MRZDate("900315", now, false)
	assert.True(t, ok)
	assert.Equal(t, "1990-03-15", d)

	d, ok = MRZDate("250101", now, false)
	assert.True(t, ok)
	assert.Equal(t, "2025-01-01", d)

	d, ok = MRZDate("340101", now, true)
	assert.True(t, ok)
	assert.Equal(t, "2034-01-01", d)

	_, ok = MRZDate("901332", now, false)
	assert.False(t, ok)
	_, ok = MRZDate("9013", now, false)
	assert.False(t, ok)
}
