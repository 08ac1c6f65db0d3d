package adapter

import (
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/resilience"
)

const marionnaudBase = "https://www.marionnaud.fr"

var marionnaudProductIDRe = regexp.MustCompile(`/p/([A-Za-z0-9-]+)$`)

// Marionnaud extracts products from the Marionnaud France storefront.
// The site exposes no crawlable review listing, so this adapter does not
// implement ReviewSource.
type Marionnaud struct {
	base string
}

// NewMarionnaud creates the Marionnaud adapter.
func NewMarionnaud() *Marionnaud {
	return &Marionnaud{base: marionnaudBase}
}

func (m *Marionnaud) Site() model.Site { return model.SiteMarionnaud }

func (m *Marionnaud) Domain() string { return "www.marionnaud.fr" }

func (m *Marionnaud) SeedURLs(refillableOnly bool) []string {
	categories := []string{"/parfum", "/soin", "/maquillage"}
	urls := make([]string, len(categories))
	for i, c := range categories {
		u := m.base + c
		if refillableOnly {
			u += "?q=%3Arelevance%3Arechargeable%3Atrue"
		}
		urls[i] = u
	}
	return urls
}

func (m *Marionnaud) ExtractRefs(pageURL string, doc *goquery.Document) []model.ProductRef {
	ext := NewExtractor(doc, pageURL)
	now := time.Now().UTC()

	var refs []model.ProductRef
	ext.Each("a.product-item-link, li.product-listing-item a[href*='/p/']", func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs := ext.Resolve(href)
		if !strings.Contains(abs, "/p/") {
			return
		}
		refs = append(refs, model.ProductRef{
			Site:         m.Site(),
			URL:          abs,
			DiscoveredAt: now,
		})
	})
	return refs
}

func (m *Marionnaud) NextPageURL(pageURL string, doc *goquery.Document) string {
	ext := NewExtractor(doc, pageURL)
	if href, ok := doc.Find("li.pagination-next a, a[rel='next']").First().Attr("href"); ok && href != "" {
		return ext.Resolve(href)
	}
	return ""
}

func (m *Marionnaud) ExtractProduct(ref model.ProductRef, doc *goquery.Document, ext *Extractor) (*model.Product, RefillSignals, error) {
	productID := ""
	if match := marionnaudProductIDRe.FindStringSubmatch(strings.TrimSuffix(ref.URL, "/")); match != nil {
		productID = match[1]
	} else {
		productID = ext.Attr("product_id", "data-sku", "div.product-details")
	}

	brand := ext.Text("brand", "p.product-brand", "a.brand-link", "[itemprop='brand']")
	name := ext.Text("name", "h1.product-title", "span.product-name", "[itemprop='name']")
	price := ParsePrice(ext.Text("price", "span.current-price", "div.price-value", "[itemprop='price']"))

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

	breadcrumbs := ext.List("breadcrumbs", "ol.breadcrumb li a", "nav.breadcrumbs span")
	sizeText := ext.Text("size", "span.product-capacity", "div.size-selector span.selected")

	p := &model.Product{
		ProductID:    productID,
		Site:         m.Site(),
		Brand:        brand,
		Name:         name,
		CategoryPath: breadcrumbs,
		PriceValue:   price,
		Currency:     "EUR",
		Availability: ext.Text("availability", "div.stock-status", "span.availability"),
		Size:         sizeText,
		SizeMLG:      ParseSize(sizeText + " " + name),
		ImageURL:     ext.URL("image_url", "src", "img.product-main-image", "div.gallery img"),
		RatingAvg:    ParseRating(ext.Text("rating_avg", "span.rating-average")),
		RatingCount:  ParseCount(ext.Text("rating_count", "span.rating-total")),
		Breadcrumbs:  breadcrumbs,
	}

	var texts []string
	doc.Find("div.product-description, div.product-composition").Each(func(_ int, sel *goquery.Selection) {
		if t := strings.TrimSpace(sel.Text()); t != "" {
			texts = append(texts, t)
		}
	})

	signals := RefillSignals{
		Badges: ext.List("refill_badge", "span.eco-badge", "div.product-labels span[title*='echargeable']"),
		Texts:  texts,
	}

	return p, signals, nil
}
