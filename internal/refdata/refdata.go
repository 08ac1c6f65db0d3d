// Package refdata loads the versioned reference files the pipeline depends
// on: the luxury brand-tier list and the category taxonomy. Both are
// read-only after load and passed explicitly into the components that need
// them; the content hash ties a run manifest to the exact reference data it
// used.
package refdata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// Tier labels for the brand list.
const (
	TierUltraLuxury = "1"
	TierPremium     = "1.5"
)

// BrandTiers is the curated brand-tier reference list. Membership checks
// are exact-match on normalized names; near-duplicate spellings are a known
// limitation and are deliberately not fuzzy-matched.
type BrandTiers struct {
	byBrand map[string]string // normalized brand -> tier label
	hash    string
}

type brandTiersFile struct {
	Version string              `json:"version,omitempty"`
	Tiers   map[string][]string `json:"tiers"`
}

// LoadBrandTiers reads a JSON file mapping tier label to brand names.
func LoadBrandTiers(path string) (*BrandTiers, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read brand tiers")
	}

	var file brandTiersFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "refdata: unmarshal brand tiers")
	}
	if len(file.Tiers) == 0 {
		return nil, eris.New("refdata: brand tiers file has no tiers")
	}

	bt := &BrandTiers{
		byBrand: make(map[string]string),
		hash:    contentHash(data),
	}
	for tier, brands := range file.Tiers {
		for _, b := range brands {
			bt.byBrand[NormalizeBrand(b)] = tier
		}
	}
	return bt, nil
}

// Tier returns the tier label for a brand, or "" when the brand is not
// listed. Matching is case- and diacritic-insensitive but otherwise exact.
func (bt *BrandTiers) Tier(brand string) string {
	return bt.byBrand[NormalizeBrand(brand)]
}

// InTier reports whether a brand appears in any luxury tier.
func (bt *BrandTiers) InTier(brand string) bool {
	return bt.Tier(brand) != ""
}

// Len returns the number of listed brands.
func (bt *BrandTiers) Len() int {
	return len(bt.byBrand)
}

// Hash returns the content hash of the loaded file.
func (bt *BrandTiers) Hash() string {
	return bt.hash
}

// Taxonomy maps site-specific category strings to normalized labels.
type Taxonomy struct {
	bySite map[string]map[string]string // site -> raw label -> normalized
	hash   string
}

type taxonomyFile struct {
	Version string                       `yaml:"version,omitempty"`
	Sites   map[string]map[string]string `yaml:"sites"`
}

// LoadTaxonomy reads the category taxonomy YAML file.
func LoadTaxonomy(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "refdata: read taxonomy")
	}

	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "refdata: unmarshal taxonomy")
	}

	t := &Taxonomy{
		bySite: make(map[string]map[string]string),
		hash:   contentHash(data),
	}
	for site, m := range file.Sites {
		normalized := make(map[string]string, len(m))
		for raw, label := range m {
			normalized[foldKey(raw)] = label
		}
		t.bySite[site] = normalized
	}
	return t, nil
}

// Normalize maps a site-specific category string to its normalized label.
// Unknown categories pass through lowercased so downstream grouping still
// works on unmapped sites.
func (t *Taxonomy) Normalize(site, raw string) string {
	if m, ok := t.bySite[site]; ok {
		if label, ok := m[foldKey(raw)]; ok {
			return label
		}
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizePath maps each element of a category path.
func (t *Taxonomy) NormalizePath(site string, path []string) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = t.Normalize(site, p)
	}
	return out
}

// Hash returns the content hash of the loaded file.
func (t *Taxonomy) Hash() string {
	return t.hash
}

// CombinedHash derives a single reference-data version hash for the run
// manifest from the individual file hashes.
func CombinedHash(hashes ...string) string {
	sort.Strings(hashes)
	h := sha256.New()
	for _, s := range hashes {
		h.Write([]byte(s))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

var foldTransformer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// NormalizeBrand canonicalizes a brand name for tier matching: diacritics
// stripped, lowercased, whitespace collapsed.
func NormalizeBrand(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

func foldKey(s string) string {
	return NormalizeBrand(s)
}
