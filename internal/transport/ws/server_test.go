package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarcolony.ai/internal/protocol"
	"stellarcolony.ai/internal/sim/clock"
	"stellarcolony.ai/internal/sim/sessions"
	"stellarcolony.ai/internal/sim/tuning"
)

type harness struct {
	reg *sessions.Registry
	url string

	mu    sync.Mutex
	ticks []*clock.Manual
}

func newHarness(t *testing.T, mutate func(*tuning.Tuning)) *harness {
	t.Helper()
	tun := tuning.Defaults()
	if mutate != nil {
		mutate(&tun)
	}
	h := &harness{}
	clk := clock.NewManual(time.Unix(1_700_000_000, 0), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	h.reg = sessions.New(ctx, sessions.Options{
		Tuning: tun,
		Secret: []byte("ws-test"),
		Clock:  clk,
		Ticks: func() clock.Source {
			m := clock.NewManual(clk.Now(), time.Second)
			h.mu.Lock()
			h.ticks = append(h.ticks, m)
			h.mu.Unlock()
			return m
		},
	})
	srv := httptest.NewServer(NewServer(h.reg, tun, nil).Handler())
	h.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	t.Cleanup(func() {
		srv.Close()
		h.reg.CloseAll()
		cancel()
	})
	return h
}

func (h *harness) fire(i, n int) {
	h.mu.Lock()
	m := h.ticks[i]
	h.mu.Unlock()
	m.Fire(n)
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readType reads frames until one of type typ arrives.
func readType(t *testing.T, conn *websocket.Conn, typ string) []byte {
	t.Helper()
	for i := 0; i < 50; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, b, err := conn.ReadMessage()
		require.NoError(t, err)
		base, err := protocol.DecodeBase(b)
		require.NoError(t, err)
		if base.Type == typ {
			return b
		}
	}
	t.Fatalf("no %s message", typ)
	return nil
}

func hello(variant string) protocol.HelloMsg {
	seed := int64(11)
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t", Variant: variant, Seed: &seed}
}

func TestHandshakeIntentAndState(t *testing.T) {
	h := newHarness(t, nil)
	conn := dial(t, h.url)

	send(t, conn, hello("colony"))
	var welcome protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeWelcome), &welcome))
	assert.NotEmpty(t, welcome.SessionID)
	assert.NotEmpty(t, welcome.ResumeToken)
	assert.Equal(t, "colony", welcome.Variant)
	assert.Len(t, welcome.CatalogDigest, 64)
	assert.Equal(t, []string{"colony", "farm"}, welcome.Variants)

	// Subscription delivers the current state right away.
	readType(t, conn, protocol.TypeState)

	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, ReqID: "r1", Kind: "PURCHASE", Structure: "solarPanel"})
	var res protocol.ResultMsg
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeResult), &res))
	assert.True(t, res.Accepted)
	assert.Equal(t, "r1", res.ReqID)

	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, ReqID: "r2", Kind: "PURCHASE", Structure: "researchLab"})
	res = protocol.ResultMsg{}
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeResult), &res))
	assert.False(t, res.Accepted)
	assert.Equal(t, protocol.ErrNoResource, res.Code)

	h.fire(0, 1)
	var st struct {
		Tick  uint64 `json:"tick"`
		State struct {
			Resources map[string]float64 `json:"resources"`
		} `json:"state"`
	}
	for st.Tick != 1 {
		require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeState), &st))
	}
	assert.Greater(t, st.State.Resources["energy"], 0.0)
}

func TestIntentValidationAndRateLimit(t *testing.T) {
	h := newHarness(t, func(tu *tuning.Tuning) {
		tu.RateLimits.IntentsPerSec = 0.001
		tu.RateLimits.IntentBurst = 1
	})
	conn := dial(t, h.url)
	send(t, conn, hello("farm"))
	readType(t, conn, protocol.TypeWelcome)

	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, ReqID: "bad", Kind: "GENERATE"})
	var res protocol.ResultMsg
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeResult), &res))
	assert.False(t, res.Accepted)
	assert.Equal(t, protocol.ErrBadRequest, res.Code)

	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, ReqID: "a", Kind: "GENERATE", Resource: "money"})
	res = protocol.ResultMsg{}
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeResult), &res))
	assert.True(t, res.Accepted)

	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, ReqID: "b", Kind: "GENERATE", Resource: "money"})
	res = protocol.ResultMsg{}
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeResult), &res))
	assert.False(t, res.Accepted)
	assert.Equal(t, protocol.ErrRateLimit, res.Code)
}

func TestResumeReattaches(t *testing.T) {
	h := newHarness(t, nil)
	first := dial(t, h.url)
	send(t, first, hello("farm"))
	var w1 protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(readType(t, first, protocol.TypeWelcome), &w1))
	first.Close()

	second := dial(t, h.url)
	send(t, second, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Auth: &protocol.HelloAuth{Token: w1.ResumeToken}})
	var w2 protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(readType(t, second, protocol.TypeWelcome), &w2))
	assert.True(t, w2.Resumed)
	assert.Equal(t, w1.SessionID, w2.SessionID)
	assert.Equal(t, 1, h.reg.Len())
}

func TestHandshakeRejects(t *testing.T) {
	h := newHarness(t, nil)

	conn := dial(t, h.url)
	send(t, conn, protocol.IntentMsg{Type: protocol.TypeIntent, Kind: "PRESTIGE"})
	var em protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeError), &em))
	assert.Equal(t, protocol.ErrProtoBadRequest, em.Code)

	conn = dial(t, h.url)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Auth: &protocol.HelloAuth{Token: "nope"}})
	em = protocol.ErrorMsg{}
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeError), &em))
	assert.Equal(t, protocol.ErrUnauthorized, em.Code)

	conn = dial(t, h.url)
	send(t, conn, hello("moon"))
	em = protocol.ErrorMsg{}
	require.NoError(t, json.Unmarshal(readType(t, conn, protocol.TypeError), &em))
	assert.Equal(t, protocol.ErrNotFound, em.Code)
	assert.Equal(t, 0, h.reg.Len())
}
