package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentInfo holds the order filters of one symbol.
type InstrumentInfo struct {
	Symbol      string
	Status      string
	TickSize    decimal.Decimal
	QtyStep     decimal.Decimal
	MinOrderQty decimal.Decimal
	MaxOrderQty decimal.Decimal
}

type instrumentResult struct {
	List []struct {
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		PriceFilter struct {
			TickSize string `json:"tickSize"`
		} `json:"priceFilter"`
		LotSizeFilter struct {
			MinOrderQty string `json:"minOrderQty"`
			MaxOrderQty string `json:"maxOrderQty"`
			QtyStep     string `json:"qtyStep"`
			// Spot instruments report basePrecision instead of qtyStep.
			BasePrecision string `json:"basePrecision"`
		} `json:"lotSizeFilter"`
	} `json:"list"`
}

// InstrumentCache fetches and caches instrument filters.
type InstrumentCache struct {
	client         *Client
	mu             sync.RWMutex
	instruments    map[string]cachedInstrument
	updateInterval time.Duration
}

type cachedInstrument struct {
	info    InstrumentInfo
	fetched time.Time
}

// NewInstrumentCache creates a cache refreshing entries hourly.
func NewInstrumentCache(client *Client) *InstrumentCache {
	return &InstrumentCache{
		client:         client,
		instruments:    make(map[string]cachedInstrument),
		updateInterval: time.Hour,
	}
}

// Get returns the filters of symbol, fetching them when missing or stale.
func (ic *InstrumentCache) Get(ctx context.Context, symbol string) (InstrumentInfo, error) {
	ic.mu.RLock()
	cached, ok := ic.instruments[symbol]
	ic.mu.RUnlock()
	if ok && time.Since(cached.fetched) < ic.updateInterval {
		return cached.info, nil
	}

	var res instrumentResult
	params := map[string]interface{}{"category": ic.client.cfg.Category, "symbol": symbol}
	if err := ic.client.call(ctx, "get instrument info", ic.client.api.Instruments, params, &res); err != nil {
		return InstrumentInfo{}, err
	}
	for _, item := range res.List {
		if item.Symbol != symbol {
			continue
		}
		step := item.LotSizeFilter.QtyStep
		if step == "" {
			step = item.LotSizeFilter.BasePrecision
		}
		info := InstrumentInfo{
			Symbol:      item.Symbol,
			Status:      item.Status,
			TickSize:    parseDecimal(item.PriceFilter.TickSize),
			QtyStep:     parseDecimal(step),
			MinOrderQty: parseDecimal(item.LotSizeFilter.MinOrderQty),
			MaxOrderQty: parseDecimal(item.LotSizeFilter.MaxOrderQty),
		}
		ic.mu.Lock()
		ic.instruments[symbol] = cachedInstrument{info: info, fetched: time.Now()}
		ic.mu.Unlock()
		return info, nil
	}
	return InstrumentInfo{}, NewBybitError(ErrCodeSymbolNotFound, fmt.Sprintf("instrument %s not found", symbol))
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatQuantity rounds qty down to the lot step. It fails when the result
// is outside the instrument's order size bounds.
func (ii InstrumentInfo) FormatQuantity(qty float64) (string, error) {
	q := decimal.NewFromFloat(qty)
	if ii.QtyStep.IsPositive() {
		q = q.Div(ii.QtyStep).Floor().Mul(ii.QtyStep)
	}
	if ii.MinOrderQty.IsPositive() && q.LessThan(ii.MinOrderQty) {
		return "", fmt.Errorf("quantity %s below minimum %s", q, ii.MinOrderQty)
	}
	if ii.MaxOrderQty.IsPositive() && q.GreaterThan(ii.MaxOrderQty) {
		return "", fmt.Errorf("quantity %s above maximum %s", q, ii.MaxOrderQty)
	}
	return q.String(), nil
}

// FormatPrice rounds price to the nearest tick.
func (ii InstrumentInfo) FormatPrice(price float64) string {
	p := decimal.NewFromFloat(price)
	if ii.TickSize.IsPositive() {
		p = p.Div(ii.TickSize).Round(0).Mul(ii.TickSize)
	}
	return p.String()
}
