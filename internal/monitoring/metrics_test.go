package monitoring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics_Totals(t *testing.T) {
	m := NewRunMetrics()

	m.PageFetched()
	m.PageFetched()
	m.PageNotModified()
	m.ProductExtracted()
	m.ReviewExtracted(5)
	m.ReviewExtracted(3)
	m.Error()
	m.Denied()
	m.Denied()

	fetched, notMod, products, reviews, errs, denied := m.Totals()
	assert.Equal(t, 2, fetched)
	assert.Equal(t, 1, notMod)
	assert.Equal(t, 1, products)
	assert.Equal(t, 8, reviews)
	assert.Equal(t, 1, errs)
	assert.Equal(t, 2, denied)
}

func TestRunMetrics_Concurrent(t *testing.T) {
	m := NewRunMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.PageFetched()
				m.ProductExtracted()
			}
		}()
	}
	wg.Wait()

	fetched, _, products, _, _, _ := m.Totals()
	assert.Equal(t, 1000, fetched)
	assert.Equal(t, 1000, products)
}

func TestRunMetrics_MissRatesWorstFirst(t *testing.T) {
	m := NewRunMetrics()

	for i := 0; i < 10; i++ {
		m.ProductExtracted()
	}
	m.SelectorMisses([]string{"size", "rating_avg"})
	m.SelectorMisses([]string{"size"})
	m.SelectorMisses([]string{"size", "price"})
	m.SelectorMisses(nil)

	rates := m.MissRates()
	require.Len(t, rates, 3)

	assert.Equal(t, "size", rates[0].Field)
	assert.Equal(t, 3, rates[0].Count)
	assert.InDelta(t, 0.3, rates[0].Rate, 1e-9)

	// Equal rates break ties alphabetically.
	assert.Equal(t, "price", rates[1].Field)
	assert.Equal(t, "rating_avg", rates[2].Field)
	assert.InDelta(t, 0.1, rates[1].Rate, 1e-9)
}

func TestRunMetrics_MissRatesEmpty(t *testing.T) {
	m := NewRunMetrics()
	assert.Nil(t, m.MissRates(), "no extractions yet")

	m.SelectorMisses([]string{"price"})
	assert.Nil(t, m.MissRates(), "misses without extractions have no denominator")

	m2 := NewRunMetrics()
	m2.ProductExtracted()
	assert.Nil(t, m2.MissRates(), "extractions without misses")
}
