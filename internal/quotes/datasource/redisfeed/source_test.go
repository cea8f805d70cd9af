package redisfeed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s := &config.Setting{Redis: &config.RedisToken{Addr: "127.0.0.1:1"}}
	src, err := New(ctx, s)
	assert.Nil(t, src)
	assert.ErrorIs(t, err, mdsource.ErrInit)
	assert.Nil(t, s.Redis)
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "quotes:BTCUSDT", Channel("", "btcusdt"))
	assert.Equal(t, "md:AAPL.US", Channel("md", "AAPL.US"))
}
