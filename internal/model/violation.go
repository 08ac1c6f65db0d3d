package model

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	// ViolationProvenance means a mandatory provenance field is missing.
	ViolationProvenance ViolationKind = "provenance_missing"
	// ViolationEvidence means refillable_flag=true with no evidence.
	ViolationEvidence ViolationKind = "evidence_missing"
	// ViolationFixture means a fixture/synthetic record reached a
	// production layer.
	ViolationFixture ViolationKind = "fixture_contamination"
	// ViolationBounds means a numeric field is out of sane range.
	ViolationBounds ViolationKind = "bounds"
	// ViolationSynthetic means a dataset-level heuristic flagged the data
	// as likely fabricated.
	ViolationSynthetic ViolationKind = "synthetic_indicator"
)

// Violation is one integrity finding: what rule broke and on which record.
// Dataset-level findings carry an empty RecordID.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	RecordID string        `json:"record_id,omitempty"`
	Entity   string        `json:"entity,omitempty"` // "product", "review", "manifest"
	Detail   string        `json:"detail"`
}
