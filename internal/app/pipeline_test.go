package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"banknotify/internal/clock"
	"banknotify/internal/config"
	"banknotify/internal/domain"
	"banknotify/internal/i18n"
	"banknotify/internal/kinds"
	"banknotify/internal/metrics"
	"banknotify/internal/rules"
	"banknotify/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pipelineNow = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

type recordingTransmitter struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recordingTransmitter) Transmit(_ context.Context, notification domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notification)
	return nil
}

func (r *recordingTransmitter) snapshot() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.sent...)
}

type failingStore struct {
	*store.MemoryStore
	err error
}

func (f failingStore) AccountsByIDs(context.Context, []string) ([]domain.Account, error) {
	return nil, f.err
}

func balanceLowerConfig() rules.Configuration {
	return rules.Configuration{"balanceLower": map[string]any{"enabled": true, "value": 100}}
}

func lowBalanceStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.PutAccount(context.Background(), domain.Account{
		ID:       "A1",
		Label:    "Checking",
		Balance:  decimal.RequireFromString("12.5"),
		Currency: "EUR",
	}))
	return st
}

func newTestPipeline(t *testing.T, cfg config.Config, st store.Store, transmitter *recordingTransmitter) (*Pipeline, *metrics.Metrics) {
	t.Helper()
	catalog, err := i18n.Load("")
	require.NoError(t, err)
	m := metrics.New()
	return NewPipeline(PipelineDeps{
		Config:      cfg,
		Store:       st,
		Catalog:     catalog,
		Classes:     kinds.All(),
		Transmitter: transmitter,
		Metrics:     m,
		Clock:       clock.Fixed(pipelineNow),
	}), m
}

func testTransactions() []domain.Transaction {
	return []domain.Transaction{{
		ID:      "T1",
		Account: "A1",
		Label:   "Groceries",
		Amount:  decimal.RequireFromString("-20"),
		Date:    pipelineNow,
	}}
}

func TestPipelineFallsBackToConfiguredNotifications(t *testing.T) {
	t.Parallel()

	transmitter := &recordingTransmitter{}
	cfg := config.Config{
		Service:       config.ServiceConfig{Lang: "en"},
		Notifications: balanceLowerConfig(),
	}
	pipeline, m := newTestPipeline(t, cfg, lowBalanceStore(t), transmitter)

	require.NoError(t, pipeline.Process(context.Background(), testTransactions()))

	sent := transmitter.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, kinds.BalanceLowerName, sent[0].Class)
	assert.Equal(t, "1 account(s) below your balance threshold", sent[0].Title)
	assert.Equal(t, "en", sent[0].Lang)
	assert.Equal(t, pipelineNow, sent[0].Timestamp)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs))
}

func TestPipelineStoredSettingsOverrideConfig(t *testing.T) {
	t.Parallel()

	st := lowBalanceStore(t)
	require.NoError(t, st.PutSettings(context.Background(), domain.Settings{
		Lang:          "fr",
		Notifications: balanceLowerConfig(),
	}))
	transmitter := &recordingTransmitter{}
	cfg := config.Config{
		Service: config.ServiceConfig{Lang: "en"},
		Notifications: rules.Configuration{
			"balanceLower": map[string]any{"enabled": false, "value": 100},
		},
	}
	pipeline, _ := newTestPipeline(t, cfg, st, transmitter)

	require.NoError(t, pipeline.Process(context.Background(), testTransactions()))

	sent := transmitter.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "fr", sent[0].Lang)
	assert.Equal(t, "1 compte(s) sous votre seuil de solde", sent[0].Title)
}

func TestPipelineEnvLangOverridesStoredSettings(t *testing.T) {
	t.Parallel()

	st := lowBalanceStore(t)
	require.NoError(t, st.PutSettings(context.Background(), domain.Settings{
		Lang:          "fr",
		Notifications: balanceLowerConfig(),
	}))
	transmitter := &recordingTransmitter{}
	cfg := config.Config{Service: config.ServiceConfig{Lang: "en", LangFromEnv: true}}
	pipeline, _ := newTestPipeline(t, cfg, st, transmitter)

	require.NoError(t, pipeline.Process(context.Background(), testTransactions()))

	sent := transmitter.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "en", sent[0].Lang)
	assert.Equal(t, "1 account(s) below your balance threshold", sent[0].Title)
}

func TestRunLangPrecedence(t *testing.T) {
	t.Parallel()

	fr := domain.Settings{Lang: "fr"}
	assert.Equal(t, "de", runLang(config.ServiceConfig{Lang: "de", LangFromEnv: true}, fr))
	assert.Equal(t, "fr", runLang(config.ServiceConfig{Lang: "de"}, fr))
	assert.Equal(t, "de", runLang(config.ServiceConfig{Lang: "de"}, domain.Settings{Lang: " "}))
}

func TestPipelineNoEnabledClassSendsNothing(t *testing.T) {
	t.Parallel()

	transmitter := &recordingTransmitter{}
	pipeline, _ := newTestPipeline(t, config.Config{Service: config.ServiceConfig{Lang: "en"}}, lowBalanceStore(t), transmitter)

	require.NoError(t, pipeline.Process(context.Background(), testTransactions()))
	assert.Empty(t, transmitter.snapshot())
}

func TestPipelinePropagatesFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("store offline")
	st := failingStore{MemoryStore: store.NewMemoryStore(), err: boom}
	transmitter := &recordingTransmitter{}
	pipeline, m := newTestPipeline(t, config.Config{Notifications: balanceLowerConfig()}, st, transmitter)

	err := pipeline.Process(context.Background(), testTransactions())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, transmitter.snapshot())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunErrors))
}

func TestPipelineApplySwapsTransmitter(t *testing.T) {
	t.Parallel()

	first := &recordingTransmitter{}
	cfg := config.Config{Service: config.ServiceConfig{Lang: "en"}, Notifications: balanceLowerConfig()}
	pipeline, _ := newTestPipeline(t, cfg, lowBalanceStore(t), first)

	second := &recordingTransmitter{}
	pipeline.Apply(cfg, second)
	require.NoError(t, pipeline.Process(context.Background(), testTransactions()))

	assert.Empty(t, first.snapshot())
	assert.Len(t, second.snapshot(), 1)
}

func TestRunContextWithoutTimeoutStaysOpen(t *testing.T) {
	t.Parallel()

	ctx, cancel := runContext(context.Background(), 0)
	defer cancel()
	_, hasDeadline := ctx.Deadline()
	assert.False(t, hasDeadline)
	assert.NoError(t, ctx.Err())

	bounded, cancelBounded := runContext(context.Background(), time.Minute)
	defer cancelBounded()
	_, hasDeadline = bounded.Deadline()
	assert.True(t, hasDeadline)
}
