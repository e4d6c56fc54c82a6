package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bandtrader/internal/core"
	"bandtrader/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(logging.NewNopLogger())

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2", sendFunc: func(ctx context.Context, alert AlertPayload) error {
		return errors.New("unreachable")
	}}
	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})
	am.Wait()

	sent := ch1.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Test Alert", sent[0].Title)
	assert.Equal(t, Info, sent[0].Level)
	assert.Equal(t, "value", sent[0].Fields["key"])
	assert.Len(t, ch2.getSent(), 1)
}

func TestAlertManager_SurvivesCancelledCaller(t *testing.T) {
	am := NewAlertManager(logging.NewNopLogger())
	var ctxErr error
	ch := &mockAlertChannel{name: "mock", sendFunc: func(ctx context.Context, alert AlertPayload) error {
		ctxErr = ctx.Err()
		return nil
	}}
	am.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	am.Alert(ctx, "t", "m", Warning, nil)
	am.Wait()
	assert.NoError(t, ctxErr)
}

func TestAlertManager_DomainAlerts(t *testing.T) {
	am := NewAlertManager(logging.NewNopLogger())
	ch := &mockAlertChannel{name: "mock"}
	am.AddChannel(ch)

	am.SessionSummary(&core.SessionSummary{
		AccountID: "AB1234", Date: "2026-10-15", SellTrades: 2, BaseRatchets: 1,
		ApproxProfit: decimal.NewFromInt(120),
	})
	am.IndexGuardTripped("AB1234")(decimal.RequireFromString("-4.5"), nil)
	am.Wait()

	sent := ch.getSent()
	require.Len(t, sent, 2)
	byTitle := map[string]AlertPayload{}
	for _, p := range sent {
		byTitle[p.Title] = p
	}
	assert.Equal(t, "120.00", byTitle["Session summary AB1234"].Fields["approx_profit"])
	assert.Equal(t, "-4.50", byTitle["Index guard tripped"].Fields["index_change_pct"])
	assert.Equal(t, Warning, byTitle["Index guard tripped"].Level)
}

func TestSlackChannel_Send(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL)
	err := ch.Send(context.Background(), AlertPayload{Level: Error, Title: "t", Message: "m", Timestamp: time.Now()})
	require.NoError(t, err)

	attachments, ok := body["attachments"].([]interface{})
	require.True(t, ok)
	require.Len(t, attachments, 1)
	assert.Equal(t, "#ff0000", attachments[0].(map[string]interface{})["color"])
}

func TestSlackChannel_NonOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlackChannel(srv.URL).Send(context.Background(), AlertPayload{Title: "t"})
	assert.Error(t, err)
}

func TestTelegramChannel_Send(t *testing.T) {
	var path string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewTelegramChannel("TOKEN", "42")
	ch.apiBase = srv.URL
	err := ch.Send(context.Background(), AlertPayload{
		Level: Warning, Title: "t", Message: "m",
		Fields: map[string]string{"b": "2", "a": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, "42", body["chat_id"])
	assert.Contains(t, body["text"], "- *a*: 1\n- *b*: 2")
}

func TestChannels_DisabledWithoutCredentials(t *testing.T) {
	assert.NoError(t, NewSlackChannel("").Send(context.Background(), AlertPayload{}))
	assert.NoError(t, NewTelegramChannel("", "").Send(context.Background(), AlertPayload{}))
}
