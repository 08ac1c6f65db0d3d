package model

import "time"

// Language is a detected review language.
type Language string

const (
	LangFrench  Language = "fr"
	LangEnglish Language = "en"
	LangOther   Language = "other"
)

// Review is one product review. Owned by the Product it references; it has
// no lifecycle beyond the pipeline run that collected it.
type Review struct {
	ReviewID  string `json:"review_id"`
	ProductID string `json:"product_id"`
	Site      Site   `json:"site"`

	Rating   int      `json:"rating"` // 1-5 stars
	Title    string   `json:"title,omitempty"`
	Body     string   `json:"body"`
	Language Language `json:"language"`

	VerifiedPurchase bool `json:"verified_purchase"`
	HelpfulCount     int  `json:"helpful_count,omitempty"`

	PostedAt time.Time `json:"posted_at"`

	// AuthorLabel is an anonymized reviewer handle. Never PII.
	AuthorLabel string `json:"author_label,omitempty"`

	Provenance

	IsFixture bool `json:"is_fixture,omitempty"`
}

// RatingInBounds reports whether the star rating is a valid 1-5 integer.
func (r *Review) RatingInBounds() bool {
	return r.Rating >= 1 && r.Rating <= 5
}
