package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

const sephoraListingHTML = `<html><body>
<div class="product-grid">
  <a class="product-tile-link" href="/tous-les-parfums/eau-de-parfum/P12345.html">Bleu de Chanel</a>
  <a class="product-tile-link" href="/tous-les-parfums/eau-de-parfum/P67890.html">J'adore</a>
  <a class="product-tile-link" href="/conseils-beaute">Guide</a>
</div>
<a class="pagination-next" href="/parfums?page=2">Suivant</a>
</body></html>`

const sephoraDetailHTML = `<html><body>
<div class="product-detail" data-product-id="P12345">
  <span class="brand-name">Chanel</span>
  <h1 class="product-name">Bleu de Chanel Eau de Parfum Rechargeable</h1>
  <span class="price-sales">124,00 &euro;</span>
  <nav class="breadcrumb"><li><a>Parfums</a></li><li><a>Parfums Homme</a></li></nav>
  <span class="product-size">100 ml</span>
  <span class="rating-value">4,6/5</span>
  <span class="rating-count">(2134)</span>
  <span class="badge-refillable">Flacon rechargeable</span>
  <div class="product-description">Un parfum intemporel. Recharges disponibles en magasin.</div>
</div>
</body></html>`

const sephoraReviewsHTML = `<html><body>
<div class="bv-review" data-review-id="rv-1">
  <span class="bv-rating-stars">5/5</span>
  <h3 class="review-title">Parfait</h3>
  <div class="bv-review-text">Je rachète ce parfum depuis des années, il est parfait.</div>
  <span class="verified-purchase">Achat vérifié</span>
  <span class="review-date">14/03/2026</span>
  <span class="review-author">Marie-Claire</span>
</div>
<div class="bv-review">
  <span class="bv-rating-stars">3/5</span>
  <div class="bv-review-text">Good scent but the bottle is fragile.</div>
</div>
<div class="bv-review">
  <span class="bv-rating-stars"></span>
  <div class="bv-review-text">Sans note, ignoré.</div>
</div>
</body></html>`

func TestSephora_ExtractRefs(t *testing.T) {
	s := NewSephora()
	d := doc(t, sephoraListingHTML)

	refs := s.ExtractRefs("https://www.sephora.fr/parfums", d)
	require.Len(t, refs, 2, "non-product links are filtered out")
	assert.Equal(t, "https://www.sephora.fr/tous-les-parfums/eau-de-parfum/P12345.html", refs[0].URL)
	assert.Equal(t, model.SiteSephora, refs[0].Site)
	assert.False(t, refs[0].DiscoveredAt.IsZero())
}

func TestSephora_NextPageURL(t *testing.T) {
	s := NewSephora()

	d := doc(t, sephoraListingHTML)
	assert.Equal(t, "https://www.sephora.fr/parfums?page=2",
		s.NextPageURL("https://www.sephora.fr/parfums", d))

	last := doc(t, `<html><body><div class="product-grid"></div></body></html>`)
	assert.Empty(t, s.NextPageURL("https://www.sephora.fr/parfums?page=9", last))
}

func TestSephora_ExtractProduct(t *testing.T) {
	s := NewSephora()
	ref := model.ProductRef{
		Site: model.SiteSephora,
		URL:  "https://www.sephora.fr/tous-les-parfums/eau-de-parfum/P12345.html",
	}
	d := doc(t, sephoraDetailHTML)
	ext := NewExtractor(d, ref.URL)

	p, signals, err := s.ExtractProduct(ref, d, ext)
	require.NoError(t, err)

	assert.Equal(t, "P12345", p.ProductID)
	assert.Equal(t, model.SiteSephora, p.Site)
	assert.Equal(t, "Chanel", p.Brand)
	assert.Equal(t, "Bleu de Chanel Eau de Parfum Rechargeable", p.Name)
	assert.InDelta(t, 124.0, p.PriceValue, 0.001)
	assert.Equal(t, "EUR", p.Currency)
	assert.Equal(t, []string{"Parfums", "Parfums Homme"}, p.CategoryPath)
	assert.InDelta(t, 100, p.SizeMLG, 0.001)
	assert.InDelta(t, 4.6, p.RatingAvg, 0.001)
	assert.Equal(t, 2134, p.RatingCount)

	require.NotEmpty(t, signals.Badges)
	assert.Contains(t, signals.Badges[0], "rechargeable")
	require.NotEmpty(t, signals.Texts)
	assert.Contains(t, signals.Texts[0], "Recharges disponibles")
}

func TestSephora_ExtractProductMissingIdentity(t *testing.T) {
	s := NewSephora()
	ref := model.ProductRef{Site: model.SiteSephora, URL: "https://www.sephora.fr/autre-page"}
	d := doc(t, `<html><body><h1 class="product-name">Sans marque</h1></body></html>`)
	ext := NewExtractor(d, ref.URL)

	_, _, err := s.ExtractProduct(ref, d, ext)
	require.Error(t, err)

	var missing *resilience.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Contains(t, missing.Fields, "product_id")
	assert.Contains(t, missing.Fields, "brand")
	assert.Contains(t, missing.Fields, "price_value")
	assert.NotContains(t, missing.Fields, "name")
}

func TestSephora_ReviewsURL(t *testing.T) {
	s := NewSephora()
	ref := model.ProductRef{URL: "https://www.sephora.fr/p/P12345.html"}

	assert.Equal(t, "https://www.sephora.fr/p/P12345.html?reviewPage=2", s.ReviewsURL(ref, 2))
	assert.Empty(t, s.ReviewsURL(ref, 0))
}

func TestSephora_ExtractReviews(t *testing.T) {
	s := NewSephora()
	ref := model.ProductRef{Site: model.SiteSephora, URL: "https://www.sephora.fr/p/P12345.html"}
	d := doc(t, sephoraReviewsHTML)
	ext := NewExtractor(d, ref.URL)

	reviews := s.ExtractReviews(ref, "P12345", d, ext)
	require.Len(t, reviews, 2, "reviews without a rating are dropped")

	first := reviews[0]
	assert.Equal(t, "rv-1", first.ReviewID)
	assert.Equal(t, "P12345", first.ProductID)
	assert.Equal(t, 5, first.Rating)
	assert.Equal(t, "Parfait", first.Title)
	assert.Equal(t, model.LangFrench, first.Language)
	assert.True(t, first.VerifiedPurchase)
	assert.Equal(t, "M***", first.AuthorLabel, "author handles are anonymized")
	assert.Equal(t, 2026, first.PostedAt.Year())

	second := reviews[1]
	assert.Equal(t, "P12345-r1", second.ReviewID, "missing review id falls back to a positional one")
	assert.Equal(t, model.LangEnglish, second.Language)
	assert.False(t, second.VerifiedPurchase)
}

func TestAnonymizeAuthor(t *testing.T) {
	assert.Equal(t, "M***", anonymizeAuthor("Marie"))
	assert.Equal(t, "É***", anonymizeAuthor("Élodie D."))
	assert.Empty(t, anonymizeAuthor("  "))
}

func TestSephora_SeedURLs(t *testing.T) {
	s := NewSephora()

	plain := s.SeedURLs(false)
	require.Len(t, plain, 3)
	assert.Equal(t, "https://www.sephora.fr/parfums", plain[0])

	faceted := s.SeedURLs(true)
	for _, u := range faceted {
		assert.Contains(t, u, "facet=rechargeable")
	}
}
