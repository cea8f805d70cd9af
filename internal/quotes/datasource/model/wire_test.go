package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeWire(t *testing.T) {
	t.Run("quote", func(t *testing.T) {
		q, ok, err := DecodeWire([]byte(`{"type":"quote","symbol":"AAPL.US","timestamp":"2024-05-02T14:30:00Z","last_done":"101.230","open":"100","high":"102","low":"99.5"}`))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "AAPL.US", q.Symbol)
		assert.True(t, q.LastDone.Equal(decimal.RequireFromString("101.23")))
		assert.True(t, q.Low.Equal(decimal.RequireFromString("99.5")))
		assert.True(t, q.Timestamp.Equal(time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)))
	})

	t.Run("untyped_is_quote", func(t *testing.T) {
		_, ok, err := DecodeWire([]byte(`{"symbol":"X","last_done":1.5}`))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("other_type_filtered", func(t *testing.T) {
		_, ok, err := DecodeWire([]byte(`{"type":"status","symbol":"X"}`))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("missing_symbol", func(t *testing.T) {
		_, _, err := DecodeWire([]byte(`{"type":"quote","last_done":"1"}`))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, _, err := DecodeWire([]byte(`not json`))
		assert.Error(t, err)
	})
}

func TestEncodeWire_Decodable(t *testing.T) {
	in := Quote{
		Symbol:    "700.HK",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		LastDone:  decimal.RequireFromString("321.4"),
		Open:      decimal.RequireFromString("320"),
		High:      decimal.RequireFromString("322"),
		Low:       decimal.RequireFromString("319.8"),
	}
	b, err := EncodeWire(in)
	require.NoError(t, err)
	out, ok, err := DecodeWire(b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, in.Symbol, out.Symbol)
	assert.True(t, in.LastDone.Equal(out.LastDone))
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
}
