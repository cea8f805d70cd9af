package relay

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
	"quoteboard.com/pkg/config"
)

func TestRun_SimToMem(t *testing.T) {
	src, err := sim.NewWithConfig(config.SimConfig{Rate: 1000, Seed: 5, Limit: 8})
	require.NoError(t, err)
	require.NoError(t, src.Subscribe(context.Background(), "aaa"))
	require.NoError(t, src.Subscribe(context.Background(), "BBB"))
	m, err := mux.NewWithSources(src)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pub := NewMemPublisher()
	assert.Equal(t, 8, Run(ctx, m, pub))

	msgs := pub.Messages("quotes.AAA")
	require.Len(t, msgs, 4)
	assert.Len(t, pub.Messages("quotes.BBB"), 4)

	q, ok, err := model.DecodeWire(msgs[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "aaa", q.Symbol)
	assert.Equal(t, "100", q.Open.String())
}

type sliceStream struct{ qs []model.Quote }

func (s *sliceStream) Next(context.Context) (model.Quote, bool) {
	if len(s.qs) == 0 {
		return model.Quote{}, false
	}
	q := s.qs[0]
	s.qs = s.qs[1:]
	return q, true
}

type failingPublisher struct{ *MemPublisher }

func (failingPublisher) Publish(_ context.Context, q model.Quote) error {
	if q.Symbol == "BAD" {
		return errors.New("rejected")
	}
	return nil
}

func TestRun_PublishErrorsSkipped(t *testing.T) {
	s := &sliceStream{qs: []model.Quote{{Symbol: "A"}, {Symbol: "BAD"}, {Symbol: "C"}}}
	assert.Equal(t, 2, Run(context.Background(), s, failingPublisher{NewMemPublisher()}))
}

func TestNewPublisher_Config(t *testing.T) {
	ctx := context.Background()
	_, err := NewPublisher(ctx, nil)
	assert.ErrorIs(t, err, ErrNoTarget)

	_, err = NewPublisher(ctx, &config.RelayConfig{Target: "nats"})
	assert.ErrorIs(t, err, ErrNoTarget)

	_, err = NewPublisher(ctx, &config.RelayConfig{Target: "kafka"})
	assert.ErrorIs(t, err, ErrNoTarget)
}
