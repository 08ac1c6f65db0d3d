package adapter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/verte-labs/refillery/internal/model"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"42,50 €", 42.50},
		{"1 234,56 €", 1234.56},
		{"€1,234.56", 1234.56},
		{"1.234,56 €", 1234.56},
		{"89€", 89},
		{"Prix : 120,00 €", 120},
		{"", 0},
		{"indisponible", 0},
		{"0,00 €", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ParsePrice(tt.in), 0.001, "input %q", tt.in)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"50 ml", 50},
		{"Recharge 150ml", 150},
		{"100 g", 100},
		{"3,4 ml", 3.4},
		{"200 grammes", 200},
		{"sans contenance", 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, ParseSize(tt.in), 0.001, "input %q", tt.in)
	}
}

func TestParseRating(t *testing.T) {
	assert.InDelta(t, 4.5, ParseRating("4,5/5"), 0.001)
	assert.InDelta(t, 4.5, ParseRating("4.5 / 5"), 0.001)
	assert.InDelta(t, 3.8, ParseRating("3,8 étoiles"), 0.001)
	assert.InDelta(t, 0, ParseRating("aucune note"), 0.001)
	assert.InDelta(t, 0, ParseRating("42"), 0.001, "out of the 0-5 range")
}

func TestParseStarRating(t *testing.T) {
	assert.Equal(t, 5, ParseStarRating("5/5"))
	assert.Equal(t, 4, ParseStarRating("4,4/5"))
	assert.Equal(t, 5, ParseStarRating("4,5/5"))
	assert.Equal(t, 0, ParseStarRating(""))
}

func TestParseCount(t *testing.T) {
	assert.Equal(t, 348, ParseCount("(348)"))
	assert.Equal(t, 12, ParseCount("12 personnes"))
	assert.Equal(t, 1234, ParseCount("1 234 avis"))
	assert.Equal(t, 0, ParseCount("aucun avis"))
}

func TestParseReviewDate(t *testing.T) {
	assert.Equal(t,
		time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		ParseReviewDate("14/03/2026"))
	assert.Equal(t,
		time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
		ParseReviewDate("02 août 2026"))
	assert.Equal(t,
		time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC),
		ParseReviewDate("2025-12-25"))
	assert.True(t, ParseReviewDate("hier").IsZero())
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, model.LangFrench,
		DetectLanguage("J'adore ce parfum, il est très bon et la tenue est parfaite"))
	assert.Equal(t, model.LangEnglish,
		DetectLanguage("The scent is amazing and very good, a perfect gift"))
	assert.Equal(t, model.LangOther, DetectLanguage(""))
	assert.Equal(t, model.LangOther, DetectLanguage("ok super top"))
}
