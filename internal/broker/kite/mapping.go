package kite

import (
	"encoding/json"
	"strings"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"

	"github.com/shopspring/decimal"
)

// envelope is the Kite API response wrapper.
type envelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
}

// decodeEnvelope unwraps a successful response payload into out.
func decodeEnvelope(body []byte, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperrors.Unavailable(err)
	}
	if env.Status != "success" {
		return envelopeError(&env)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return apperrors.Unavailable(err)
	}
	return nil
}

// envelopeToError classifies a non-2xx body that still carries the envelope.
func envelopeToError(body []byte) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return apperrors.Unavailable(err)
	}
	return envelopeError(&env)
}

func envelopeError(env *envelope) error {
	switch env.ErrorType {
	case "TokenException":
		return apperrors.ErrSessionExpired
	case "NetworkException":
		return apperrors.ErrRateLimited
	default:
		return apperrors.Rejected(env.Message)
	}
}

// flexNumber tolerates the API's habit of sending numbers both quoted and
// bare, and null for absent values.
type flexNumber decimal.Decimal

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = flexNumber(decimal.Zero)
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	*n = flexNumber(d)
	return nil
}

func (n flexNumber) dec() decimal.Decimal {
	return decimal.Decimal(n)
}

// wireOrder is the order payload shape on the wire.
type wireOrder struct {
	OrderID         string     `json:"order_id"`
	Status          string     `json:"status"`
	StatusMessage   string     `json:"status_message"`
	TradingSymbol   string     `json:"tradingsymbol"`
	Exchange        string     `json:"exchange"`
	InstrumentToken uint64     `json:"instrument_token"`
	TransactionType string     `json:"transaction_type"`
	OrderType       string     `json:"order_type"`
	Product         string     `json:"product"`
	Quantity        flexNumber `json:"quantity"`
	FilledQuantity  flexNumber `json:"filled_quantity"`
	Price           flexNumber `json:"price"`
	TriggerPrice    flexNumber `json:"trigger_price"`
	AveragePrice    flexNumber `json:"average_price"`
	OrderTimestamp  string     `json:"order_timestamp"`
	Tag             string     `json:"tag"`
}

func (w *wireOrder) toDomain() core.Order {
	o := core.Order{
		OrderRequest: core.OrderRequest{
			InstrumentToken: w.InstrumentToken,
			TradingSymbol:   w.TradingSymbol,
			Exchange:        w.Exchange,
			Side:            core.Side(w.TransactionType),
			Type:            core.OrderType(w.OrderType),
			Product:         w.Product,
			Quantity:        w.Quantity.dec().IntPart(),
			Price:           w.Price.dec(),
			TriggerPrice:    w.TriggerPrice.dec(),
			CorrelationID:   w.Tag,
		},
		BrokerOrderID:    w.OrderID,
		Status:           mapWireStatus(w.Status),
		FilledQuantity:   w.FilledQuantity.dec().IntPart(),
		AverageFillPrice: w.AveragePrice.dec(),
		RejectionReason:  w.StatusMessage,
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", w.OrderTimestamp); err == nil {
		o.PlacedAt = ts
		o.UpdatedAt = ts
	}
	return o
}

func mapWireStatus(s string) core.OrderStatus {
	switch s {
	case "OPEN", "UPDATE", "PUT ORDER REQ RECEIVED", "OPEN PENDING", "MODIFY PENDING":
		return core.StatusOpen
	case "COMPLETE":
		return core.StatusComplete
	case "CANCELLED", "CANCEL PENDING":
		return core.StatusCancelled
	case "REJECTED":
		return core.StatusRejected
	case "TRIGGER PENDING":
		return core.StatusTriggerPending
	default:
		return core.StatusPending
	}
}

// wirePosition is one entry of the positions response.
type wirePosition struct {
	TradingSymbol   string     `json:"tradingsymbol"`
	Exchange        string     `json:"exchange"`
	InstrumentToken uint64     `json:"instrument_token"`
	Product         string     `json:"product"`
	Quantity        flexNumber `json:"quantity"`
	AveragePrice    flexNumber `json:"average_price"`
	LastPrice       flexNumber `json:"last_price"`
	PnL             flexNumber `json:"pnl"`
	Realised        flexNumber `json:"realised"`
	Unrealised      flexNumber `json:"unrealised"`
}

func (w *wirePosition) toDomain() core.Position {
	return core.Position{
		InstrumentToken: w.InstrumentToken,
		TradingSymbol:   w.TradingSymbol,
		Exchange:        w.Exchange,
		Product:         w.Product,
		Quantity:        w.Quantity.dec().IntPart(),
		AveragePrice:    w.AveragePrice.dec(),
		RealizedPnL:     w.Realised.dec(),
		UnrealizedPnL:   w.Unrealised.dec(),
		LastPrice:       w.LastPrice.dec(),
	}
}

// wireMargins is the user margins response for one segment.
type wireMargins struct {
	Net       flexNumber `json:"net"`
	Available struct {
		Cash         flexNumber `json:"cash"`
		LiveBalance  flexNumber `json:"live_balance"`
		Collateral   flexNumber `json:"collateral"`
		IntradayPayi flexNumber `json:"intraday_payin"`
	} `json:"available"`
	Utilised struct {
		Debits   flexNumber `json:"debits"`
		Exposure flexNumber `json:"exposure"`
		Span     flexNumber `json:"span"`
	} `json:"utilised"`
}

// orderMarginRequest is the payload for the margin estimation endpoints.
type orderMarginRequest struct {
	Exchange        string  `json:"exchange"`
	TradingSymbol   string  `json:"tradingsymbol"`
	TransactionType string  `json:"transaction_type"`
	Variety         string  `json:"variety"`
	Product         string  `json:"product"`
	OrderType       string  `json:"order_type"`
	Quantity        int64   `json:"quantity"`
	Price           float64 `json:"price"`
	TriggerPrice    float64 `json:"trigger_price"`
}

func marginRequestFor(req *core.OrderRequest) orderMarginRequest {
	price, _ := req.Price.Float64()
	trigger, _ := req.TriggerPrice.Float64()
	return orderMarginRequest{
		Exchange:        req.Exchange,
		TradingSymbol:   req.TradingSymbol,
		TransactionType: string(req.Side),
		Variety:         "regular",
		Product:         req.Product,
		OrderType:       string(req.Type),
		Quantity:        req.Quantity,
		Price:           price,
		TriggerPrice:    trigger,
	}
}

// wireOrderMargin is one entry of the margin estimation response.
type wireOrderMargin struct {
	Total flexNumber `json:"total"`
}

// wireBasketMargin is the basket estimation response.
type wireBasketMargin struct {
	Final struct {
		Total flexNumber `json:"total"`
	} `json:"final"`
}
