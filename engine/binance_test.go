package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rustyeddy/evobot/store"
)

type fakeBinanceAPI struct {
	res     *binance.CreateOrderResponse
	err     error
	symbols []string
}

func (f *fakeBinanceAPI) CreateMarketOrder(ctx context.Context, symbol string, side binance.SideType, qty string) (*binance.CreateOrderResponse, error) {
	f.symbols = append(f.symbols, symbol)
	return f.res, f.err
}

func (f *fakeBinanceAPI) GetOrder(ctx context.Context, symbol string, orderID int64) (*binance.Order, error) {
	return &binance.Order{Status: binance.OrderStatusTypeFilled}, nil
}

type fakeOrderLog struct {
	saved    []store.OrderRecord
	statuses map[string]string
}

func newFakeOrderLog() *fakeOrderLog {
	return &fakeOrderLog{statuses: map[string]string{}}
}

func (f *fakeOrderLog) SaveOrder(o store.OrderRecord) error {
	f.saved = append(f.saved, o)
	return nil
}

func (f *fakeOrderLog) UpdateOrderStatus(id, status, brokerID string) error {
	f.statuses[id] = status
	return nil
}

func testBinance(api binanceAPI, log OrderLog) *Binance {
	return &Binance{
		api:      api,
		limiter:  rate.NewLimiter(rate.Inf, 1),
		orders:   log,
		fallback: NewSim(DefaultSimConfig(), nil),
	}
}

func TestBinancePersistsOrderBeforeRemoteCall(t *testing.T) {
	t.Parallel()

	api := &fakeBinanceAPI{
		res: &binance.CreateOrderResponse{
			OrderID: 42,
			Status:  binance.OrderStatusTypeFilled,
			Fills: []*binance.Fill{
				{Price: "100.5", Quantity: "2", Commission: "0.01"},
			},
		},
	}
	log := newFakeOrderLog()
	b := testBinance(api, log)

	o := order(2, 100)
	o.Symbol = "btc/usdt"
	fill, err := b.Place(context.Background(), o)
	require.NoError(t, err)

	require.Len(t, log.saved, 1)
	assert.Equal(t, "pending", log.saved[0].Status)
	assert.Equal(t, "BTCUSDT", log.saved[0].Symbol, "symbol normalized before persisting")
	assert.Equal(t, []string{"BTCUSDT"}, api.symbols)

	assert.Equal(t, "filled", log.statuses["o1"])
	assert.InDelta(t, 2.0, fill.Qty, 1e-12)
	assert.InDelta(t, 100.5, fill.Price, 1e-12)
	assert.Equal(t, "42", fill.BrokerOrderID)
	assert.False(t, fill.Simulated)
}

func TestBinanceFallsBackToSimOnRemoteError(t *testing.T) {
	t.Parallel()

	api := &fakeBinanceAPI{err: errors.New("connection reset")}
	log := newFakeOrderLog()
	b := testBinance(api, log)

	fill, err := b.Place(context.Background(), order(2, 100))
	require.NoError(t, err, "remote outage must not surface as a failed order")
	assert.True(t, fill.Simulated)
	assert.Equal(t, "simulated", log.statuses["o1"])
}

func TestBinanceRejectionFallsBackToSim(t *testing.T) {
	t.Parallel()

	api := &fakeBinanceAPI{
		res: &binance.CreateOrderResponse{Status: binance.OrderStatusTypeRejected},
	}
	b := testBinance(api, newFakeOrderLog())

	fill, err := b.Place(context.Background(), order(2, 100))
	require.NoError(t, err)
	assert.True(t, fill.Simulated)
}

func TestBinanceInvalidSymbolFailsFast(t *testing.T) {
	t.Parallel()

	log := newFakeOrderLog()
	b := testBinance(&fakeBinanceAPI{}, log)

	o := order(1, 100)
	o.Symbol = "BTC.USDT"
	_, err := b.Place(context.Background(), o)
	assert.Error(t, err)
	assert.Empty(t, log.saved, "nothing persisted for an unplaceable order")
}

func TestBinanceVWAPOverMultipleFills(t *testing.T) {
	t.Parallel()

	api := &fakeBinanceAPI{
		res: &binance.CreateOrderResponse{
			OrderID: 7,
			Status:  binance.OrderStatusTypeFilled,
			Fills: []*binance.Fill{
				{Price: "100", Quantity: "1", Commission: "0.01"},
				{Price: "102", Quantity: "1", Commission: "0.01"},
			},
		},
	}
	b := testBinance(api, newFakeOrderLog())

	fill, err := b.Place(context.Background(), order(2, 100))
	require.NoError(t, err)
	assert.InDelta(t, 101.0, fill.Price, 1e-9)
	assert.InDelta(t, 0.02, fill.Fee, 1e-9)
}

func TestLimitWaitDeadlineIsRetryable(t *testing.T) {
	t.Parallel()

	// Drain the burst so the next token is an hour away, then ask with a
	// deadline the limiter cannot meet.
	l := rate.NewLimiter(rate.Every(time.Hour), 1)
	require.True(t, l.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := limitWait(ctx, l)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimitWaitPassesTokens(t *testing.T) {
	t.Parallel()

	l := rate.NewLimiter(rate.Inf, 1)
	assert.NoError(t, limitWait(context.Background(), l))
}
