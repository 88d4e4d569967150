package prices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/anypay/eventhub/internal/errors"
)

// Scale is the fixed decimal scale applied to every conversion result.
const Scale = 8

// ConversionRequest asks for quote_value of quote_currency expressed in
// base_currency.
type ConversionRequest struct {
	QuoteCurrency string          `json:"quote_currency"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteValue    decimal.Decimal `json:"quote_value"`
}

// ConversionResult is the converted amount with the wall-clock timestamp of
// the conversion.
type ConversionResult struct {
	QuoteCurrency string          `json:"quote_currency"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteValue    decimal.Decimal `json:"quote_value"`
	BaseValue     decimal.Decimal `json:"base_value"`
	Timestamp     string          `json:"timestamp"`
}

// Converter is a stateless FX converter over the price cache.
type Converter struct {
	cache *Cache
}

// NewConverter constructs a converter reading from cache.
func NewConverter(cache *Cache) *Converter {
	return &Converter{cache: cache}
}

// Convert resolves the pair directly or inverted and rounds the result to
// Scale digits, half up. A row (base_currency=B, currency=Q) prices one Q in
// B, so the direct hit multiplies; the inverted row (base_currency=Q,
// currency=B) prices one B in Q, so it divides.
func (c *Converter) Convert(req ConversionRequest) (ConversionResult, error) {
	result := ConversionResult{
		QuoteCurrency: req.QuoteCurrency,
		BaseCurrency:  req.BaseCurrency,
		QuoteValue:    req.QuoteValue,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	if price, ok := c.cache.Get(req.BaseCurrency, req.QuoteCurrency); ok && !price.Value.IsZero() {
		result.BaseValue = req.QuoteValue.Mul(price.Value).Round(Scale)
		return result, nil
	}

	if inverse, ok := c.cache.Get(req.QuoteCurrency, req.BaseCurrency); ok && !inverse.Value.IsZero() {
		result.BaseValue = req.QuoteValue.DivRound(inverse.Value, Scale)
		return result, nil
	}

	return ConversionResult{}, errors.Newf(errors.KindNoRate,
		"No price for %s to %s", req.QuoteCurrency, req.BaseCurrency)
}
