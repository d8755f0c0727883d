package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SignalSentinel/internal/model"
	"SignalSentinel/internal/tenant"
)

type fakeChannel struct {
	mu    sync.Mutex
	sent  map[string]string
	edits map[string]string
	fail  map[string]bool
	slow  map[string]bool
	seq   int
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		sent:  map[string]string{},
		edits: map[string]string{},
		fail:  map[string]bool{},
		slow:  map[string]bool{},
	}
}

func (f *fakeChannel) Name() string { return "fake" }

func (f *fakeChannel) Send(ctx context.Context, dest, text string) (string, error) {
	if f.slow[dest] {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[dest] {
		return "", errors.New("chat not found")
	}
	f.seq++
	f.sent[dest] = text
	return fmt.Sprintf("m%d", f.seq), nil
}

func (f *fakeChannel) Edit(_ context.Context, dest, handle, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits[dest] = handle
	return nil
}

// sendOnly hides the Edit method of the wrapped channel.
type sendOnly struct{ ch *fakeChannel }

func (s sendOnly) Name() string { return s.ch.Name() }

func (s sendOnly) Send(ctx context.Context, dest, text string) (string, error) {
	return s.ch.Send(ctx, dest, text)
}

// panicChannel panics for one destination.
type panicChannel struct {
	*fakeChannel
	dest string
}

func (p panicChannel) Send(ctx context.Context, dest, text string) (string, error) {
	if dest == p.dest {
		panic("nil chat config")
	}
	return p.fakeChannel.Send(ctx, dest, text)
}

type gateFunc func(t *model.Tenant, c model.Capability) bool

func (g gateFunc) IsEligible(t *model.Tenant, c model.Capability) bool { return g(t, c) }

func approvedOnly(t *model.Tenant, _ model.Capability) bool { return t != nil && t.Approved }

func tenants(ids ...string) []*model.Tenant {
	out := make([]*model.Tenant, len(ids))
	for i, id := range ids {
		out[i] = &model.Tenant{ID: id, Approved: !strings.HasPrefix(id, "pending")}
	}
	return out
}

func sampleOpp() *model.Opportunity {
	return &model.Opportunity{
		ID:         "opp-1",
		Symbol:     "AAPL",
		Strategy:   "breakout",
		EntryPrice: 100,
		Targets:    []float64{105, 110, 115},
		StopLoss:   95,
		Status:     model.StatusActive,
		UpdatedAt:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	ch := newFakeChannel()
	ch.fail["b"] = true
	d := NewDispatcher(ch, gateFunc(approvedOnly), 2, time.Second, zerolog.Nop(), nil)

	ev := model.Event{Type: model.EventNewOpportunity, Opportunity: sampleOpp()}
	rep := d.Broadcast(context.Background(), ev, tenants("a", "b", "c", "pending-1"))

	require.Len(t, rep.Delivered, 2)
	assert.Equal(t, "a", rep.Delivered[0].TenantID)
	assert.Equal(t, "c", rep.Delivered[1].TenantID)
	assert.Equal(t, []string{"pending-1"}, rep.Skipped)
	require.Contains(t, rep.Failed, "b")
	assert.ErrorIs(t, rep.Failed["b"], model.ErrDelivery)
	assert.Len(t, rep.Refs(), 2)
	assert.Contains(t, ch.sent["a"], "AAPL")
	assert.NotContains(t, ch.sent, "pending-1")
}

func TestBroadcastRecoversChannelPanic(t *testing.T) {
	ch := newFakeChannel()
	d := NewDispatcher(panicChannel{fakeChannel: ch, dest: "b"}, gateFunc(approvedOnly), 2, time.Second, zerolog.Nop(), nil)

	ev := model.Event{Type: model.EventNewOpportunity, Opportunity: sampleOpp()}
	rep := d.Broadcast(context.Background(), ev, tenants("a", "b", "c"))

	require.Len(t, rep.Delivered, 2)
	require.Contains(t, rep.Failed, "b")
	assert.ErrorIs(t, rep.Failed["b"], model.ErrDelivery)
	assert.Contains(t, ch.sent, "a")
	assert.Contains(t, ch.sent, "c")
}

func TestBroadcastTimeoutPerCall(t *testing.T) {
	ch := newFakeChannel()
	ch.slow["slow"] = true
	d := NewDispatcher(ch, gateFunc(approvedOnly), 4, 50*time.Millisecond, zerolog.Nop(), nil)

	start := time.Now()
	rep := d.Broadcast(context.Background(), model.Event{Type: model.EventNewOpportunity, Opportunity: sampleOpp()}, tenants("slow", "fast"))
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, rep.Delivered, 1)
	assert.Equal(t, "fast", rep.Delivered[0].TenantID)
	assert.ErrorIs(t, rep.Failed["slow"], model.ErrDelivery)
}

func TestBroadcastFollowUpEditsWhenPossible(t *testing.T) {
	opp := sampleOpp()
	opp.TargetIndex = 1
	opp.AlertRefs = map[string]string{"a": "m7"}
	ev := model.Event{Type: model.EventTargetHit, Opportunity: opp, Price: 106}

	ch := newFakeChannel()
	d := NewDispatcher(ch, gateFunc(approvedOnly), 2, time.Second, zerolog.Nop(), nil)
	rep := d.Broadcast(context.Background(), ev, tenants("a", "b"))
	require.Len(t, rep.Delivered, 2)
	assert.True(t, rep.Delivered[0].Edited)
	assert.Equal(t, "m7", rep.Delivered[0].Handle)
	assert.False(t, rep.Delivered[1].Edited, "no handle falls back to send")
	assert.Equal(t, "m7", ch.edits["a"])
	assert.Contains(t, ch.sent, "b")

	plain := newFakeChannel()
	d = NewDispatcher(sendOnly{plain}, gateFunc(approvedOnly), 2, time.Second, zerolog.Nop(), nil)
	rep = d.Broadcast(context.Background(), ev, tenants("a"))
	require.Len(t, rep.Delivered, 1)
	assert.False(t, rep.Delivered[0].Edited)
	assert.Contains(t, plain.sent, "a")
}

func TestBroadcastUsesEventCapability(t *testing.T) {
	var seen []model.Capability
	var mu sync.Mutex
	gate := gateFunc(func(_ *model.Tenant, c model.Capability) bool {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
		return false
	})
	d := NewDispatcher(newFakeChannel(), gate, 1, time.Second, zerolog.Nop(), nil)
	d.Broadcast(context.Background(), model.Event{Type: model.EventReport, Cadence: model.CadenceWeekly, Text: "r"}, tenants("a"))
	assert.Equal(t, []model.Capability{model.ReportCapability(model.CadenceWeekly)}, seen)
}

func TestFormatEvent(t *testing.T) {
	opp := sampleOpp()
	msg := FormatEvent(model.Event{Type: model.EventNewOpportunity, Opportunity: opp})
	assert.Contains(t, msg, "AAPL | Breakout")
	assert.Contains(t, msg, "T3: 115")
	assert.Contains(t, msg, "Stop loss: 95")

	opp.Status = model.StatusStopped
	msg = FormatEvent(model.Event{Type: model.EventStopped, Opportunity: opp, Price: 94})
	assert.Contains(t, msg, "stopped at 94 (-5.00%)")

	assert.Equal(t, "body", FormatEvent(model.Event{Type: model.EventReport, Text: "body"}))
}

func TestFormatSettings(t *testing.T) {
	msg := FormatSettings(tenant.SettingsSummary{
		TenantID:   "42",
		Status:     tenant.StatusPending,
		Strategies: map[string]bool{"breakout": true, "trend_cross": false},
		Reports:    map[model.Cadence]bool{model.CadenceDaily: true},
	})
	assert.Contains(t, msg, "Status: pending")
	assert.Contains(t, msg, "Breakout: on")
	assert.Contains(t, msg, "Trend cross: off")
	assert.Contains(t, msg, "daily: on")
	assert.Contains(t, msg, "hourly: off")
}

func TestConsoleChannel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	h1, err := c.Send(context.Background(), "chat-1", "hello")
	require.NoError(t, err)
	h2, err := c.Send(context.Background(), "chat-2", "world")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
	require.NoError(t, c.Edit(context.Background(), "chat-1", h1, "hello again"))

	out := buf.String()
	assert.Contains(t, out, "chat-1")
	assert.Contains(t, out, "hello again")
	assert.Contains(t, strings.ToUpper(out), "DESTINATION")
}

func TestTelegramSendAndEdit(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var payload map[string]any
		_ = json.Unmarshal(body, &payload)
		mu.Lock()
		calls = append(calls, r.URL.Path)
		mu.Unlock()
		switch {
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			if payload["chat_id"] == "blocked" {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"ok":false,"description":"Forbidden: bot was blocked by the user"}`))
				return
			}
			w.Write([]byte(`{"ok":true,"result":{"message_id":321}}`))
		case strings.HasSuffix(r.URL.Path, "/editMessageText"):
			assert.Equal(t, float64(321), payload["message_id"])
			w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tg := NewTelegramChannel("TOKEN", "", time.Second, 0, zerolog.Nop())
	tg.BaseURL = srv.URL

	handle, err := tg.Send(context.Background(), "100", "hi")
	require.NoError(t, err)
	assert.Equal(t, "321", handle)
	require.NoError(t, tg.Edit(context.Background(), "100", handle, "hi again"))

	_, err = tg.Send(context.Background(), "blocked", "hi")
	assert.ErrorIs(t, err, model.ErrDelivery)
	assert.ErrorIs(t, tg.Edit(context.Background(), "100", "not-a-number", "x"), model.ErrDelivery)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/botTOKEN/sendMessage", calls[0])
	assert.Equal(t, "/botTOKEN/editMessageText", calls[1])
}

func TestTelegramPollOnce(t *testing.T) {
	var replies []map[string]any
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/getUpdates") {
			assert.Equal(t, "7", r.URL.Query().Get("offset"))
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":7,"message":{"text":"/start","chat":{"id":555}}},
				{"update_id":8,"message":{"text":"just chatting","chat":{"id":555}}},
				{"update_id":9}
			]}`))
			return
		}
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		replies = append(replies, payload)
		mu.Unlock()
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	}))
	defer srv.Close()

	tg := NewTelegramChannel("T", "", time.Second, 0, zerolog.Nop())
	tg.BaseURL = srv.URL

	var got []string
	handler := func(_ context.Context, chatID, cmd string) string {
		got = append(got, chatID+" "+cmd)
		return "welcome"
	}
	next, err := tg.pollOnce(context.Background(), srv.Client(), 7, 0, handler)
	require.NoError(t, err)
	assert.Equal(t, 10, next)
	assert.Equal(t, []string{"555 /start"}, got, "only slash commands reach the handler")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, replies, 1)
	assert.Equal(t, "555", replies[0]["chat_id"])
	assert.Equal(t, "welcome", replies[0]["text"])
}
