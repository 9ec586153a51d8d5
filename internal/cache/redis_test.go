package cache

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spread-scanner/internal/market"
)

func TestListingRoundTrip(t *testing.T) {
	listing := market.Listing{}
	listing.Add(market.Instrument{
		Symbol:  market.MustSymbol("BTC/USDT"),
		LotStep: decimal.RequireFromString("0.0001"),
		MinQty:  decimal.RequireFromString("0.001"),
	})
	listing.Add(market.Instrument{Symbol: market.MustSymbol("ETH/USDT")})

	data, err := encodeListing(listing)
	require.NoError(t, err)
	got, err := decodeListing(data)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.True(t, got.Has("ETH/USDT"))
	assert.Equal(t, "0.0001", got["BTC/USDT"].LotStep.String())
	assert.Equal(t, "0.001", got["BTC/USDT"].MinQty.String())
}

func TestKeySchema(t *testing.T) {
	s := NewWithClient(nil, Options{})
	assert.Equal(t, "spreadscan:listing:okx", s.listingKey("okx"))
	assert.Equal(t, "spreadscan:cycle:latest", s.latestKey())
}
