package datasource

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"quoteboard.com/internal/quotes/mdsource"
	"quoteboard.com/pkg/config"
)

func TestOpen_ConsumesCredentialBlock(t *testing.T) {
	s := &config.Setting{Sim: &config.SimConfig{Rate: 100, Seed: 1}}
	require.True(t, KindSim.Configured(s))

	src, err := Open(context.Background(), KindSim, s)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, "sim", src.Name())
	assert.Nil(t, s.Sim, "凭证块应当被取走")
	assert.False(t, KindSim.Configured(s))

	// 第二次构造拿不到凭证
	_, err = Open(context.Background(), KindSim, s)
	assert.True(t, errors.Is(err, mdsource.ErrInit))
}

func TestOpen_MissingBlocks(t *testing.T) {
	for _, k := range Kinds {
		t.Run(k.String(), func(t *testing.T) {
			src, err := Open(context.Background(), k, &config.Setting{})
			assert.Nil(t, src)
			assert.ErrorIs(t, err, mdsource.ErrInit)
		})
	}
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := Open(context.Background(), Kind(99), &config.Setting{})
	assert.ErrorIs(t, err, mdsource.ErrInit)
	assert.Equal(t, "unknown", Kind(99).String())
}
