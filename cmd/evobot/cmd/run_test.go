package cmd

import (
	"testing"

	"github.com/adshao/go-binance/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookTickerTickKeepsConfigSymbol(t *testing.T) {
	ev := &binance.WsBookTickerEvent{
		Symbol:       "BTCUSDT",
		BestBidPrice: "50000",
		BestAskPrice: "50010",
	}

	msg, ok := bookTickerTick("BTC/USDT", ev)
	require.True(t, ok)

	// Dispatch routes by the config symbol, never the exchange form.
	assert.Equal(t, "BTC/USDT", msg.Symbol)
	assert.InDelta(t, 50005.0, msg.Price, 1e-9)
	assert.False(t, msg.Time.IsZero())
}

func TestBookTickerTickRejectsBadPrices(t *testing.T) {
	ev := &binance.WsBookTickerEvent{
		Symbol:       "BTCUSDT",
		BestBidPrice: "not-a-price",
		BestAskPrice: "50010",
	}

	_, ok := bookTickerTick("BTC/USDT", ev)
	assert.False(t, ok)
}
