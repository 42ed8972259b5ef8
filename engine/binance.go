package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/adshao/go-binance/v2"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/evobot/observ"
	"github.com/rustyeddy/evobot/store"
)

// OrderLog is the slice of the store the broker engine writes local order
// rows to, before and after each remote call.
type OrderLog interface {
	SaveOrder(store.OrderRecord) error
	UpdateOrderStatus(id, status, brokerOrderID string) error
}

// BinanceConfig configures the Binance-backed engine.
type BinanceConfig struct {
	APIKey    string `yaml:"-"` // from environment, never the config file
	SecretKey string `yaml:"-"`
	Testnet   bool   `yaml:"testnet"`

	// RateLimitPerMinute caps remote calls; Binance weight limits are
	// far higher, this is a self-imposed budget.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// binanceAPI is the thin remote surface, separated so tests can fake the
// exchange.
type binanceAPI interface {
	CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, qty string) (*binance.CreateOrderResponse, error)
	GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error)
}

type binanceREST struct {
	client *binance.Client
}

func (b *binanceREST) CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, qty string) (*binance.CreateOrderResponse, error) {
	return b.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty).
		Do(ctx)
}

func (b *binanceREST) GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	return b.client.NewGetOrderService().Symbol(symbol).OrderID(orderID).Do(ctx)
}

// Binance places real orders on Binance spot. Every remote failure falls
// back to a simulated fill so risk/PnL bookkeeping never stalls on an
// exchange outage; the order row records which path filled it.
type Binance struct {
	api      binanceAPI
	limiter  *rate.Limiter
	orders   OrderLog
	fallback *Sim
}

func NewBinance(cfg BinanceConfig, orders OrderLog, fallback *Sim) *Binance {
	binance.UseTestnet = cfg.Testnet
	perMin := cfg.RateLimitPerMinute
	if perMin <= 0 {
		perMin = 60
	}
	return &Binance{
		api:      &binanceREST{client: binance.NewClient(cfg.APIKey, cfg.SecretKey)},
		limiter:  rate.NewLimiter(rate.Limit(float64(perMin)/60), 2),
		orders:   orders,
		fallback: fallback,
	}
}

// NormalizeSymbol maps "btc/usdt" or "BTC_USDT" to Binance's "BTCUSDT"
// and rejects anything that isn't plain alphanumerics afterwards.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "_", "", "-", "").Replace(s)
	if s == "" {
		return "", fmt.Errorf("empty symbol")
	}
	for _, r := range s {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return "", fmt.Errorf("invalid symbol %q", symbol)
		}
	}
	return s, nil
}

func (b *Binance) Place(ctx context.Context, o Order) (Fill, error) {
	symbol, err := NormalizeSymbol(o.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("binance place: %w", err)
	}

	// Local record first: if the process dies mid-call the order is
	// still visible for reconciliation.
	b.logOrder(store.OrderRecord{
		ID: o.ID, BotID: o.BotID, Symbol: symbol,
		Side: o.Side, Qty: o.Qty, Price: o.Price,
		Type: string(o.Type), Status: "pending",
		Time: time.Now().UTC(),
	})

	fill, err := b.placeRemote(ctx, symbol, o)
	if err != nil {
		observ.Error("binance_order_failed", err, map[string]any{
			"order_id": o.ID,
			"symbol":   symbol,
		})
		return b.simulate(ctx, o)
	}

	b.updateStatus(o.ID, "filled", fill.BrokerOrderID)
	return fill, nil
}

// limitWait blocks on the rate limiter. rate.Wait reports a deadline it
// cannot meet with an unwrapped error, so that case is converted into a
// context timeout the resilient layer recognizes as retryable.
func limitWait(ctx context.Context, l *rate.Limiter) error {
	err := l.Wait(ctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("rate limit: %w", ctxErr)
	}
	return fmt.Errorf("rate limit: %w", context.DeadlineExceeded)
}

func (b *Binance) placeRemote(ctx context.Context, symbol string, o Order) (Fill, error) {
	if err := limitWait(ctx, b.limiter); err != nil {
		return Fill{}, err
	}

	side := binance.SideTypeBuy
	if o.Side.Sign() < 0 {
		side = binance.SideTypeSell
	}

	res, err := b.api.CreateMarketOrder(ctx, symbol, side, strconv.FormatFloat(o.Qty, 'f', -1, 64))
	if err != nil {
		return Fill{}, err
	}
	if res.Status == binance.OrderStatusTypeRejected ||
		res.Status == binance.OrderStatusTypeExpired ||
		res.Status == binance.OrderStatusTypeCanceled {
		return Fill{}, fmt.Errorf("binance status %s: %w", res.Status, ErrRejected)
	}

	fill, err := aggregateFills(res)
	if err != nil {
		return Fill{}, err
	}
	if diff := fill.Qty - o.Qty; diff > 1e-9 || diff < -1e-9 {
		return Fill{}, fmt.Errorf("binance filled %v of %v: %w", fill.Qty, o.Qty, ErrBadFill)
	}
	return fill, nil
}

func aggregateFills(res *binance.CreateOrderResponse) (Fill, error) {
	var qty, notional, fee float64
	for _, f := range res.Fills {
		q, err := strconv.ParseFloat(f.Quantity, 64)
		if err != nil {
			return Fill{}, fmt.Errorf("parse fill qty %q: %w", f.Quantity, err)
		}
		p, err := strconv.ParseFloat(f.Price, 64)
		if err != nil {
			return Fill{}, fmt.Errorf("parse fill price %q: %w", f.Price, err)
		}
		c, err := strconv.ParseFloat(f.Commission, 64)
		if err != nil {
			return Fill{}, fmt.Errorf("parse commission %q: %w", f.Commission, err)
		}
		qty += q
		notional += q * p
		fee += c
	}
	if qty == 0 {
		return Fill{}, fmt.Errorf("no fills reported: %w", ErrBadFill)
	}
	return Fill{
		Qty:           qty,
		Price:         notional / qty,
		Fee:           fee,
		Time:          time.UnixMilli(res.TransactTime).UTC(),
		BrokerOrderID: strconv.FormatInt(res.OrderID, 10),
	}, nil
}

// simulate fills locally after a remote failure.
func (b *Binance) simulate(ctx context.Context, o Order) (Fill, error) {
	fill, err := b.fallback.Place(ctx, o)
	if err != nil {
		b.updateStatus(o.ID, "rejected", "")
		return Fill{}, fmt.Errorf("fallback sim: %w", err)
	}
	b.updateStatus(o.ID, "simulated", "")
	observ.Warn("order_filled_by_fallback", map[string]any{
		"order_id": o.ID,
		"symbol":   o.Symbol,
	})
	return fill, nil
}

// OrderStatus polls the terminal status of a previously placed order.
func (b *Binance) OrderStatus(ctx context.Context, symbol string, brokerOrderID string) (string, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return "", err
	}
	oid, err := strconv.ParseInt(brokerOrderID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("parse broker order id %q: %w", brokerOrderID, err)
	}
	if err := limitWait(ctx, b.limiter); err != nil {
		return "", err
	}
	o, err := b.api.GetOrder(ctx, sym, oid)
	if err != nil {
		return "", err
	}
	return string(o.Status), nil
}

func (b *Binance) logOrder(rec store.OrderRecord) {
	if b.orders == nil {
		return
	}
	if err := b.orders.SaveOrder(rec); err != nil {
		observ.Error("order_persist_failed", err, map[string]any{"order_id": rec.ID})
	}
}

func (b *Binance) updateStatus(id, status, brokerID string) {
	if b.orders == nil {
		return
	}
	if err := b.orders.UpdateOrderStatus(id, status, brokerID); err != nil {
		observ.Error("order_status_persist_failed", err, map[string]any{"order_id": id})
	}
}
