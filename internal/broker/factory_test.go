package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"options_engine/internal/core"
	"options_engine/internal/mock"
)

func TestSelectByMode(t *testing.T) {
	live := mock.NewGateway()
	sim := mock.NewGateway()

	got, err := Select(core.ModeLive, live, sim)
	require.NoError(t, err)
	assert.Same(t, live, got)

	got, err = Select(core.ModePaper, nil, sim)
	require.NoError(t, err)
	assert.Same(t, sim, got)

	// HYBRID executes against the simulator.
	got, err = Select(core.ModeHybrid, live, sim)
	require.NoError(t, err)
	assert.Same(t, sim, got)
}

func TestSelectMissingGateway(t *testing.T) {
	_, err := Select(core.ModeLive, nil, mock.NewGateway())
	assert.Error(t, err)

	_, err = Select(core.ModePaper, mock.NewGateway(), nil)
	assert.Error(t, err)

	_, err = Select(core.TradingMode("BACKTEST"), mock.NewGateway(), mock.NewGateway())
	assert.Error(t, err)
}
