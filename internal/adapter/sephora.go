package adapter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

const sephoraBase = "https://www.sephora.fr"

var sephoraProductIDRe = regexp.MustCompile(`/(P\d+)\.html`)

// Sephora extracts products and reviews from the Sephora France storefront.
type Sephora struct {
	base string
}

// NewSephora creates the Sephora adapter.
func NewSephora() *Sephora {
	return &Sephora{base: sephoraBase}
}

func (s *Sephora) Site() model.Site { return model.SiteSephora }

func (s *Sephora) Domain() string { return "www.sephora.fr" }

func (s *Sephora) SeedURLs(refillableOnly bool) []string {
	categories := []string{"/parfums", "/soins-visage", "/maquillage"}
	urls := make([]string, len(categories))
	for i, c := range categories {
		u := s.base + c
		if refillableOnly {
			u += "?facet=rechargeable"
		}
		urls[i] = u
	}
	return urls
}

func (s *Sephora) ExtractRefs(pageURL string, doc *goquery.Document) []model.ProductRef {
	ext := NewExtractor(doc, pageURL)
	now := time.Now().UTC()

	var refs []model.ProductRef
	ext.Each("a.product-tile-link, div.product-tile a[href*='.html']", func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := ext.Resolve(href)
		if !sephoraProductIDRe.MatchString(abs) {
			return
		}
		refs = append(refs, model.ProductRef{
			Site:         s.Site(),
			URL:          abs,
			DiscoveredAt: now,
		})
	})
	return refs
}

func (s *Sephora) NextPageURL(pageURL string, doc *goquery.Document) string {
	ext := NewExtractor(doc, pageURL)
	if href, ok := doc.Find("a.pagination-next, link[rel='next']").First().Attr("href"); ok && href != "" {
		return ext.Resolve(href)
	}
	return ""
}

func (s *Sephora) ExtractProduct(ref model.ProductRef, doc *goquery.Document, ext *Extractor) (*model.Product, RefillSignals, error) {
	productID := s.productID(ref.URL, ext)
	brand := ext.Text("brand", "span.brand-name", "a.product-brand", "[itemprop='brand']")
	name := ext.Text("name", "h1.product-name", "span.product-name-text", "[itemprop='name']")
	priceText := ext.Text("price", "span.price-sales", "span.product-price", "[itemprop='price']")
	price := ParsePrice(priceText)

	var missing []string
	if productID == "" {
		missing = append(missing, "product_id")
	}
	if brand == "" {
		missing = append(missing, "brand")
	}
	if name == "" {
		missing = append(missing, "name")
	}
	if price <= 0 {
		missing = append(missing, "price_value")
	}
	if len(missing) > 0 {
		return nil, RefillSignals{}, &resilience.MissingFieldError{URL: ref.URL, Fields: missing}
	}

	breadcrumbs := ext.List("breadcrumbs", "nav.breadcrumb li a", "ol.breadcrumbs li")
	sizeText := ext.Text("size", "span.product-size", "div.variation-size")
	ratingText := ext.Text("rating_avg", "span.rating-value", "div.bv-rating span")

	p := &model.Product{
		ProductID:    productID,
		Site:         s.Site(),
		Brand:        brand,
		Name:         name,
		CategoryPath: breadcrumbs,
		PriceValue:   price,
		Currency:     "EUR",
		Availability: ext.Text("availability", "span.availability-label", "p.in-stock-msg"),
		Size:         sizeText,
		SizeMLG:      ParseSize(sizeText + " " + name),
		EANGTIN:      ext.Attr("ean_gtin", "content", "meta[itemprop='gtin13']"),
		ImageURL:     ext.URL("image_url", "src", "img.primary-image", "picture.product-image img"),
		RatingAvg:    ParseRating(ratingText),
		RatingCount:  ParseCount(ext.Text("rating_count", "span.rating-count", "span.bv-number-review")),
		Breadcrumbs:  breadcrumbs,
	}

	signals := RefillSignals{
		Badges: ext.List("refill_badge", "span.badge-refillable, img.badge[alt*='echargeable']", "div.product-badges span"),
		Texts:  s.refillTexts(doc),
	}

	return p, signals, nil
}

// refillTexts collects the free-text blocks that may mention a refill
// program: description, packaging notes, usage.
func (s *Sephora) refillTexts(doc *goquery.Document) []string {
	var texts []string
	doc.Find("div.product-description, div.product-usage, div.packaging-info").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			texts = append(texts, t)
		}
	})
	return texts
}

func (s *Sephora) productID(rawURL string, ext *Extractor) string {
	if m := sephoraProductIDRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ext.Attr("product_id", "data-product-id", "div.product-detail")
}

// ReviewsURL implements ReviewSource. Sephora paginates reviews on the
// product page with a page query parameter.
func (s *Sephora) ReviewsURL(ref model.ProductRef, page int) string {
	if page < 1 {
		return ""
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("reviewPage", fmt.Sprintf("%d", page))
	u.RawQuery = q.Encode()
	return u.String()
}

// ExtractReviews implements ReviewSource.
func (s *Sephora) ExtractReviews(ref model.ProductRef, productID string, doc *goquery.Document, ext *Extractor) []model.Review {
	var reviews []model.Review

	ext.Each("div.bv-review, article.review-item", func(i int, sel *goquery.Selection) {
		body := strings.TrimSpace(sel.Find("div.bv-review-text, p.review-body").First().Text())
		if body == "" {
			return
		}

		ratingText := strings.TrimSpace(sel.Find("span.bv-rating-stars, span.review-rating").First().Text())
		rating := ParseStarRating(ratingText)
		if rating == 0 {
			return
		}

		reviewID, ok := sel.Attr("data-review-id")
		if !ok || reviewID == "" {
			reviewID = fmt.Sprintf("%s-r%d", productID, i)
		}

		reviews = append(reviews, model.Review{
			ReviewID:         reviewID,
			ProductID:        productID,
			Site:             s.Site(),
			Rating:           rating,
			Title:            strings.TrimSpace(sel.Find("h3.review-title").First().Text()),
			Body:             body,
			Language:         DetectLanguage(body),
			VerifiedPurchase: sel.Find("span.verified-purchase, span.bv-badge-verified").Length() > 0,
			HelpfulCount:     ParseCount(sel.Find("span.helpful-count").First().Text()),
			PostedAt:         ParseReviewDate(sel.Find("span.review-date, time").First().Text()),
			AuthorLabel:      anonymizeAuthor(sel.Find("span.review-author").First().Text()),
		})
	})

	return reviews
}

// anonymizeAuthor reduces a displayed reviewer name to a non-identifying
// label. Never stores the raw handle.
func anonymizeAuthor(displayed string) string {
	displayed = strings.TrimSpace(displayed)
	if displayed == "" {
		return ""
	}
	runes := []rune(displayed)
	return string(runes[0]) + "***"
}
