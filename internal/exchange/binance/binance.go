// Package binance implements exchange.Adapter on top of the go-binance
// futures client.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"quantra/internal/exchange"
	symbolpkg "quantra/internal/pkg/symbol"
)

// Config holds the knobs for the futures REST client.
type Config struct {
	APIKey      string
	APISecret   string
	BaseURL     string
	HTTPTimeout time.Duration
	ProxyURL    string
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 10 * time.Second
	}
	return c
}

// Adapter talks to Binance USD-M futures.
type Adapter struct {
	cfg    Config
	client *futures.Client
}

var _ exchange.Adapter = (*Adapter)(nil)

// New builds an Adapter. A custom base URL is used as-is (testnet, mock
// server); proxies apply to the REST transport only.
func New(cfg Config) (*Adapter, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	if base := strings.TrimSpace(final.BaseURL); base != "" {
		client.BaseURL = base
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyURL != "" {
		proxyURL, err := url.Parse(final.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Adapter{cfg: final, client: client}, nil
}

func (a *Adapter) Name() string { return "binance-futures" }

func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if strings.TrimSpace(req.Symbol) == "" {
		return "", exchange.Invalid("PlaceOrder", "symbol is required")
	}
	if req.Quantity <= 0 {
		return "", exchange.Invalid("PlaceOrder", "quantity must be positive")
	}
	svc := a.client.NewCreateOrderService().
		Symbol(symbolpkg.ForBinance(req.Symbol)).
		Side(futures.SideType(strings.ToUpper(req.Side))).
		Quantity(formatQty(req.Quantity))
	if req.PositionSide != "" {
		svc = svc.PositionSide(futures.PositionSideType(strings.ToUpper(req.PositionSide)))
	}
	switch strings.ToUpper(req.Type) {
	case "LIMIT":
		if req.Price <= 0 {
			return "", exchange.Invalid("PlaceOrder", "limit order requires a price")
		}
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatQty(req.Price))
	default:
		svc = svc.Type(futures.OrderTypeMarket)
	}
	if req.ClientID != "" {
		svc = svc.NewClientOrderID(req.ClientID)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return "", classify("PlaceOrder", err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (a *Adapter) OrderStatus(ctx context.Context, symbol, orderID string) (exchange.OrderState, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.OrderState{}, exchange.Invalid("OrderStatus", "order id must be numeric")
	}
	ord, err := a.client.NewGetOrderService().
		Symbol(symbolpkg.ForBinance(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return exchange.OrderState{}, classify("OrderStatus", err)
	}
	return exchange.OrderState{
		OrderID:      orderID,
		Status:       string(ord.Status),
		ExecutedQty:  parseFloat(ord.ExecutedQuantity),
		AvgFillPrice: parseFloat(ord.AvgPrice),
		UpdatedAt:    time.UnixMilli(ord.UpdateTime),
	}, nil
}

func (a *Adapter) Positions(ctx context.Context) ([]exchange.PositionSnapshot, error) {
	risks, err := a.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, classify("Positions", err)
	}
	out := make([]exchange.PositionSnapshot, 0, len(risks))
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := strings.ToUpper(string(r.PositionSide))
		if side == "" || side == "BOTH" {
			side = "LONG"
			if amt < 0 {
				side = "SHORT"
			}
		}
		if amt < 0 {
			amt = -amt
		}
		out = append(out, exchange.PositionSnapshot{
			Symbol:           symbolpkg.FromBinance(r.Symbol),
			Side:             side,
			Amount:           amt,
			EntryPrice:       parseFloat(r.EntryPrice),
			UnrealizedPnL:    parseFloat(r.UnRealizedProfit),
			Leverage:         parseFloat(r.Leverage),
			LiquidationPrice: parseFloat(r.LiquidationPrice),
			MarkPrice:        parseFloat(r.MarkPrice),
		})
	}
	return out, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.Invalid("CancelOrder", "order id must be numeric")
	}
	_, err = a.client.NewCancelOrderService().
		Symbol(symbolpkg.ForBinance(symbol)).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return classify("CancelOrder", err)
	}
	return nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if leverage < 1 {
		return exchange.Invalid("SetLeverage", "leverage must be >= 1")
	}
	_, err := a.client.NewChangeLeverageService().
		Symbol(symbolpkg.ForBinance(symbol)).
		Leverage(leverage).
		Do(ctx)
	if err != nil {
		return classify("SetLeverage", err)
	}
	return nil
}

// classify maps a go-binance error into the transient/validation taxonomy.
// Request-parameter and order-rejection codes indicate a caller bug and must
// not trip the circuit; everything else is treated as exchange trouble.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.Code
		switch {
		case code <= -1100 && code > -1200: // request issues (params, precision)
			return exchange.Invalid(op, apiErr.Message)
		case code <= -2010 && code > -2030: // order rejected / unknown order
			return exchange.Invalid(op, apiErr.Message)
		case code <= -4000 && code > -5000: // futures margin / position mode
			return exchange.Invalid(op, apiErr.Message)
		default:
			return exchange.Transient(op, err)
		}
	}
	return exchange.Transient(op, err)
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
