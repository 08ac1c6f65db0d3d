package model

import "time"

// Provenance is the mandatory audit subset carried on every Product and
// Review row: where the record came from, when, and under which robots
// snapshot it was collected. Absence of any field is a hard integrity
// violation and is never repaired silently.
type Provenance struct {
	SourceSite       string    `json:"source_site"`
	SourceURL        string    `json:"source_url"`
	ScrapeTS         time.Time `json:"scrape_ts"`
	RobotsSnapshotID string    `json:"robots_snapshot_id"`
}

// Complete reports whether every provenance field is present and non-zero.
func (p Provenance) Complete() bool {
	return p.SourceSite != "" &&
		p.SourceURL != "" &&
		!p.ScrapeTS.IsZero() &&
		p.RobotsSnapshotID != ""
}

// MissingFields lists the names of absent provenance fields, in schema order.
func (p Provenance) MissingFields() []string {
	var missing []string
	if p.SourceSite == "" {
		missing = append(missing, "source_site")
	}
	if p.SourceURL == "" {
		missing = append(missing, "source_url")
	}
	if p.ScrapeTS.IsZero() {
		missing = append(missing, "scrape_ts")
	}
	if p.RobotsSnapshotID == "" {
		missing = append(missing, "robots_snapshot_id")
	}
	return missing
}
