package bybit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	engerrors "github.com/ducminhle1904/hft-trading-engine/internal/errors"
	"github.com/ducminhle1904/hft-trading-engine/internal/order"
	"github.com/ducminhle1904/hft-trading-engine/internal/position"
	"github.com/ducminhle1904/hft-trading-engine/pkg/types"
)

// Bybit order statuses.
const (
	StatusNew                     = "New"
	StatusPartiallyFilled         = "PartiallyFilled"
	StatusUntriggered             = "Untriggered"
	StatusFilled                  = "Filled"
	StatusCancelled               = "Cancelled"
	StatusPartiallyFilledCanceled = "PartiallyFilledCanceled"
	StatusDeactivated             = "Deactivated"
	StatusRejected                = "Rejected"
)

type placeResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}

type venueOrder struct {
	OrderID      string `json:"orderId"`
	OrderLinkID  string `json:"orderLinkId"`
	Symbol       string `json:"symbol"`
	OrderStatus  string `json:"orderStatus"`
	AvgPrice     string `json:"avgPrice"`
	CumExecQty   string `json:"cumExecQty"`
	RejectReason string `json:"rejectReason"`
}

type orderList struct {
	List []venueOrder `json:"list"`
}

type positionList struct {
	List []struct {
		Symbol         string `json:"symbol"`
		Side           string `json:"side"`
		Size           string `json:"size"`
		AvgPrice       string `json:"avgPrice"`
		MarkPrice      string `json:"markPrice"`
		CumRealisedPnl string `json:"cumRealisedPnl"`
	} `json:"list"`
}

// Executor places engine orders on Bybit. It implements order.Executor and
// order.StatusQuerier.
type Executor struct {
	client *Client

	mu      sync.Mutex
	symbols map[string]string // broker ref -> symbol
}

var (
	_ order.Executor      = (*Executor)(nil)
	_ order.StatusQuerier = (*Executor)(nil)
)

// NewExecutor creates an executor over client.
func NewExecutor(client *Client) *Executor {
	return &Executor{client: client, symbols: make(map[string]string)}
}

func bybitSide(s types.Side) string {
	if s == types.SideSell {
		return "Sell"
	}
	return "Buy"
}

// orderLinkID makes the client id unique across sessions. Bybit caps it at
// 36 characters.
func orderLinkID(clientID string) string {
	id := clientID + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(id) > 36 {
		id = id[:36]
	}
	return id
}

// Place submits a market or GTC limit order. Exchange-side refusals come
// back as rejections, transport failures as errors.
func (e *Executor) Place(ctx context.Context, req order.PlaceRequest) (order.PlaceResult, error) {
	info, err := e.client.instruments.Get(ctx, req.Instrument)
	if err != nil {
		if IsRejection(err) {
			return order.PlaceResult{Reason: err.Error()}, nil
		}
		return order.PlaceResult{}, engerrors.NewExternalServiceError("bybit", "place", err)
	}
	qty, err := info.FormatQuantity(req.Quantity)
	if err != nil {
		return order.PlaceResult{Reason: err.Error()}, nil
	}

	params := map[string]interface{}{
		"category":    e.client.cfg.Category,
		"symbol":      req.Instrument,
		"side":        bybitSide(req.Side),
		"qty":         qty,
		"orderLinkId": orderLinkID(req.ClientID),
	}
	if req.Kind == types.KindLimit && req.Price > 0 {
		params["orderType"] = "Limit"
		params["price"] = info.FormatPrice(req.Price)
		params["timeInForce"] = "GTC"
	} else {
		params["orderType"] = "Market"
	}

	var res placeResult
	if err := e.client.call(ctx, "place order", e.client.api.PlaceOrder, params, &res); err != nil {
		if IsRejection(err) {
			e.client.log.Warning("order %s rejected: %v", req.ClientID, err)
			return order.PlaceResult{Reason: err.Error()}, nil
		}
		return order.PlaceResult{}, engerrors.NewExternalServiceError("bybit", "place", err)
	}

	e.mu.Lock()
	e.symbols[res.OrderID] = req.Instrument
	e.mu.Unlock()
	e.client.log.Trade("placed %s %s %s qty=%s ref=%s", params["orderType"], params["side"], req.Instrument, qty, res.OrderID)
	return order.PlaceResult{Accepted: true, BrokerRef: res.OrderID}, nil
}

func (e *Executor) symbolOf(brokerRef string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	symbol, ok := e.symbols[brokerRef]
	if !ok {
		return "", fmt.Errorf("unknown broker ref %s", brokerRef)
	}
	return symbol, nil
}

// Modify amends price and quantity. Zero values are left unchanged.
func (e *Executor) Modify(ctx context.Context, brokerRef string, price, qty float64) error {
	symbol, err := e.symbolOf(brokerRef)
	if err != nil {
		return err
	}
	info, err := e.client.instruments.Get(ctx, symbol)
	if err != nil {
		return engerrors.NewExternalServiceError("bybit", "modify", err)
	}
	params := map[string]interface{}{
		"category": e.client.cfg.Category,
		"symbol":   symbol,
		"orderId":  brokerRef,
	}
	if price > 0 {
		params["price"] = info.FormatPrice(price)
	}
	if qty > 0 {
		q, err := info.FormatQuantity(qty)
		if err != nil {
			return engerrors.NewValidationError("bybit", "modify", err.Error())
		}
		params["qty"] = q
	}
	if err := e.client.call(ctx, "amend order", e.client.api.AmendOrder, params, nil); err != nil {
		return engerrors.NewExternalServiceError("bybit", "modify", err)
	}
	return nil
}

// Cancel cancels a working order.
func (e *Executor) Cancel(ctx context.Context, brokerRef string) error {
	symbol, err := e.symbolOf(brokerRef)
	if err != nil {
		return err
	}
	params := map[string]interface{}{
		"category": e.client.cfg.Category,
		"symbol":   symbol,
		"orderId":  brokerRef,
	}
	if err := e.client.call(ctx, "cancel order", e.client.api.CancelOrder, params, nil); err != nil {
		return engerrors.NewExternalServiceError("bybit", "cancel", err)
	}
	return nil
}

// Positions returns the non-flat positions of the configured settle coin.
func (e *Executor) Positions(ctx context.Context) ([]position.Position, error) {
	params := map[string]interface{}{"category": e.client.cfg.Category}
	if e.client.cfg.SettleCoin != "" {
		params["settleCoin"] = e.client.cfg.SettleCoin
	}
	var res positionList
	if err := e.client.call(ctx, "get positions", e.client.api.Positions, params, &res); err != nil {
		return nil, engerrors.NewExternalServiceError("bybit", "positions", err)
	}

	out := make([]position.Position, 0, len(res.List))
	for _, p := range res.List {
		qty := parseFloat64(p.Size)
		if qty == 0 {
			continue
		}
		if p.Side == "Sell" {
			qty = -qty
		}
		out = append(out, position.Position{
			Instrument:  p.Symbol,
			Quantity:    qty,
			AvgPrice:    parseFloat64(p.AvgPrice),
			LastPrice:   parseFloat64(p.MarkPrice),
			RealizedPnL: parseFloat64(p.CumRealisedPnl),
		})
	}
	return out, nil
}

// OrderStatus looks the order up among open orders, then in history.
func (e *Executor) OrderStatus(ctx context.Context, brokerRef, instrument string) (order.VenueState, error) {
	params := map[string]interface{}{
		"category": e.client.cfg.Category,
		"symbol":   instrument,
		"orderId":  brokerRef,
	}
	lookups := []struct {
		name string
		fn   apiCall
	}{
		{"get open orders", e.client.api.OpenOrders},
		{"get order history", e.client.api.OrderHistory},
	}
	for _, l := range lookups {
		var res orderList
		if err := e.client.call(ctx, l.name, l.fn, params, &res); err != nil {
			if IsOrderNotFoundError(err) {
				continue
			}
			return order.VenueState{}, engerrors.NewExternalServiceError("bybit", "order status", err)
		}
		for _, o := range res.List {
			if o.OrderID == brokerRef {
				return venueState(o), nil
			}
		}
	}
	return order.VenueState{}, engerrors.NewExternalServiceError("bybit", "order status",
		NewBybitError(ErrCodeOrderNotFound, "order "+brokerRef+" not found"))
}

func venueState(o venueOrder) order.VenueState {
	st := order.VenueState{BrokerRef: o.OrderID}
	switch o.OrderStatus {
	case StatusFilled:
		st.Status = order.StatusComplete
		st.FillPrice = parseFloat64(o.AvgPrice)
	case StatusCancelled, StatusDeactivated, StatusPartiallyFilledCanceled:
		st.Status = order.StatusCancelled
	case StatusRejected:
		st.Status = order.StatusRejected
		st.Reason = o.RejectReason
	default:
		st.Status = order.StatusOpen
	}
	return st
}
