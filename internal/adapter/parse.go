package adapter

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/verte-labs/refillery/internal/model"
)

var (
	nonPriceChars = regexp.MustCompile(`[^\d,.]`)
	sizeRe        = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(ml|g|grammes?)`)
	ratingSlashRe = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*/\s*5`)
	numberRe      = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	digitsRe      = regexp.MustCompile(`\d+`)
)

// ParsePrice extracts a price value from display text, handling both French
// ("1 234,56 €") and English ("€1,234.56") formats. Returns 0 when no
// positive price can be read.
func ParsePrice(text string) float64 {
	cleaned := nonPriceChars.ReplaceAllString(text, "")
	if cleaned == "" {
		return 0
	}

	switch {
	case strings.Contains(cleaned, ",") && strings.Contains(cleaned, "."):
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			// 1.234,56 — dot is the thousands separator
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.ReplaceAll(cleaned, ",", ".")
		} else {
			// 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case strings.Contains(cleaned, ","):
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// ParseSize extracts a size in ml or grams from display text ("50 ml",
// "100 g", "Recharge 150ml"). Returns 0 when no size is present.
func ParseSize(text string) float64 {
	m := sizeRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// ParseRating extracts a 0-5 rating from display text ("4,5/5",
// "4.5 étoiles"). Returns 0 when nothing valid matches.
func ParseRating(text string) float64 {
	if m := ratingSlashRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil && v >= 0 && v <= 5 {
			return v
		}
	}
	if m := numberRe.FindString(text); m != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", "."), 64); err == nil && v >= 0 && v <= 5 {
			return v
		}
	}
	return 0
}

// ParseStarRating extracts an integer 1-5 star rating for reviews.
func ParseStarRating(text string) int {
	v := ParseRating(text)
	stars := int(v + 0.5)
	if stars < 1 || stars > 5 {
		return 0
	}
	return stars
}

// ParseCount extracts the first integer in text ("12 personnes", "(348)").
func ParseCount(text string) int {
	m := digitsRe.FindString(strings.ReplaceAll(text, " ", ""))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

var frenchDateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02 January 2006",
}

var frenchMonths = strings.NewReplacer(
	"janvier", "January", "février", "February", "mars", "March",
	"avril", "April", "mai", "May", "juin", "June",
	"juillet", "July", "août", "August", "septembre", "September",
	"octobre", "October", "novembre", "November", "décembre", "December",
)

// ParseReviewDate parses review dates in the formats the French storefronts
// display. Zero time when unparseable.
func ParseReviewDate(text string) time.Time {
	text = strings.TrimSpace(frenchMonths.Replace(strings.ToLower(text)))
	for _, layout := range frenchDateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t
		}
	}
	return time.Time{}
}

var frenchIndicators = []string{
	"le", "la", "les", "un", "une", "des", "et", "avec", "sans",
	"très", "plus", "moins", "bon", "bonne", "mauvais", "mauvaise",
	"parfait", "parfaite", "excellente", "génial", "j'adore",
}

var englishIndicators = []string{
	"the", "a", "an", "and", "with", "without", "very", "more",
	"less", "good", "bad", "perfect", "excellent", "great", "amazing",
}

// DetectLanguage classifies review text as French, English, or other using
// indicator-word counts. Deliberately simple; ties go to other.
func DetectLanguage(text string) model.Language {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return model.LangOther
	}

	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[strings.Trim(w, ".,!?;:'\"()")] = true
	}

	var fr, en int
	for _, w := range frenchIndicators {
		if seen[w] {
			fr++
		}
	}
	for _, w := range englishIndicators {
		if seen[w] {
			en++
		}
	}

	switch {
	case fr > en:
		return model.LangFrench
	case en > fr:
		return model.LangEnglish
	default:
		return model.LangOther
	}
}
