package service

import (
	"context"
	"testing"
	"time"

	"signal_bot/internal/cooldown"
	"signal_bot/internal/helper"
	"signal_bot/internal/lifecycle"
	"signal_bot/internal/models"
	docstore "signal_bot/internal/modules/docstore/service"
	"signal_bot/internal/notify"
	"signal_bot/internal/positions"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupRun(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemory()
	ps := positions.NewStore(docs)
	notes := &notify.Recorder{}
	ctrl := lifecycle.NewController(lifecycle.Config{NotionalUSD: 100, PostCloseCooldown: 2 * time.Hour, ClosingStaleAfter: 2 * time.Minute},
		ps, cooldown.NewManager(docs), notes, nil)

	target, stop := models.LevelPrices(models.Long, 100, 15, 7.5)
	_, err := ctrl.Open(ctx, models.CandidateSignal{
		Instrument: "SOLUSDT", Direction: models.Long, Entry: 100, Target: target, Stop: stop, Leverage: 10,
	})
	require.NoError(t, err)

	require.NoError(t, docs.Put(ctx, helper.PositionKey("ETHUSDT"), []byte(`{"instrument":"ETHUSDT","direction":"SIDEWAYS"}`)))
	require.NoError(t, ps.PutActiveSignal(ctx, models.ActiveSignal{Instrument: "ADAUSDT", Direction: models.Short, Entry: 1}))

	rep, err := NewCleanup(ctrl, ps, notes).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT"}, rep.Purged)
	assert.Equal(t, []string{"ADAUSDT"}, rep.Orphans)
	assert.Equal(t, []string{"SOLUSDT"}, rep.Restored)
	assert.Equal(t, "restored=1 purged=1 orphans=1", rep.String())

	signals, err := ps.ActiveSignals(ctx)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "SOLUSDT", signals[0].Instrument)

	msgs := notes.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, notify.OperatorOnly, msgs[1].Audience)
	assert.Contains(t, msgs[1].Text, "ETHUSDT")
	assert.Contains(t, msgs[1].Text, "ADAUSDT")
}

func TestCleanupCleanStoreIsQuiet(t *testing.T) {
	docs := docstore.NewMemory()
	ps := positions.NewStore(docs)
	notes := &notify.Recorder{}
	ctrl := lifecycle.NewController(lifecycle.Config{NotionalUSD: 100}, ps, cooldown.NewManager(docs), notes, nil)

	rep, err := NewCleanup(ctrl, ps, notes).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Purged)
	assert.Empty(t, notes.Messages())
}
