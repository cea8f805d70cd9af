package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quoteboard.com/internal/quotes/datasource/model"
	"quoteboard.com/internal/quotes/datasource/sim"
	"quoteboard.com/internal/quotes/mux"
	"quoteboard.com/internal/quotes/render"
	"quoteboard.com/internal/quotes/render/screen"
	"quoteboard.com/pkg/config"
)

func TestStatusLine(t *testing.T) {
	assert.Equal(t, "no active feeds", statusLine(nil, nil))
	assert.Equal(t, "feeds: binance,sim", statusLine([]string{"binance", "sim"}, nil))
	assert.Equal(t,
		"feeds: sim | failed: nats,redis (see log)",
		statusLine([]string{"sim"}, map[string]error{"redis": errors.New("x"), "nats": errors.New("y")}),
	)
}

func TestRenderLoop_SimFeed(t *testing.T) {
	src, err := sim.NewWithConfig(config.SimConfig{Rate: 1000, Seed: 3, Limit: 10})
	require.NoError(t, err)
	require.NoError(t, src.Subscribe(context.Background(), "AAA"))
	require.NoError(t, src.Subscribe(context.Background(), "BBB"))

	m, err := mux.NewWithSources(src)
	require.NoError(t, err)

	ch := make(chan model.Quote, 16)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		defer close(ch)
		for {
			q, ok := m.Next(context.Background())
			if !ok {
				return
			}
			ch <- q
		}
	}()

	tb := render.New(screen.NewRecorder(), 80, 24)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- renderLoop(ctx, tb, m, ch, nil) }()

	select {
	case <-pumped:
	case <-time.After(3 * time.Second):
		t.Fatal("sim feed did not close")
	}
	require.Eventually(t, func() bool { return len(ch) == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, m.Active())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	stocks := tb.Stocks()
	require.Len(t, stocks, 2)
	assert.Equal(t, "AAA", stocks[0].Symbol)
	assert.Equal(t, "BBB", stocks[1].Symbol)
}
