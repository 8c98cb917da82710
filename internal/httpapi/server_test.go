package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/jensholdgaard/draft-auction/internal/auction"
	"github.com/jensholdgaard/draft-auction/internal/broadcast"
	"github.com/jensholdgaard/draft-auction/internal/clock"
	"github.com/jensholdgaard/draft-auction/internal/event"
	"github.com/jensholdgaard/draft-auction/internal/health"
	"github.com/jensholdgaard/draft-auction/internal/httpapi"
	"github.com/jensholdgaard/draft-auction/internal/roster"
	"github.com/jensholdgaard/draft-auction/internal/store/memory"
)

const (
	testScope  = "ipl-2026"
	testSecret = "test-secret"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	srv    *httptest.Server
	auth   *httpapi.Authenticator
	hub    *broadcast.Hub
	roster *roster.Manager
	admin  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repos := memory.New(clk).Repositories()
	hub := broadcast.NewHub(testLogger)
	tp := noop.NewTracerProvider()
	engine, err := auction.NewManager(repos, hub, testLogger, tp, metricnoop.NewMeterProvider(), clk)
	assert.NoError(t, err)
	t.Cleanup(engine.Close)

	rm := roster.NewManager(engine, repos, testLogger, tp)
	auth := httpapi.NewAuthenticator(testSecret, "draftauction")
	hh := health.NewHandler(clk)
	hh.SetReady(true)

	api := httpapi.NewServer(engine, rm, hub, auth, hh, testLogger, httpapi.Options{SubscriberBuffer: 16})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	f := &fixture{srv: srv, auth: auth, hub: hub, roster: rm}
	f.admin = f.token(t, "operator", httpapi.RoleAdmin, testScope)
	return f
}

func (f *fixture) token(t *testing.T, sub, role, scope string) string {
	t.Helper()
	tok, err := f.auth.Issue(sub, role, scope, time.Hour)
	assert.NoError(t, err)
	return tok
}

// do sends a request and decodes the JSON response into out when non-nil.
func (f *fixture) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		assert.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	assert.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type errResp struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

type playerResp struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	CurrentPrice int    `json:"current_price"`
}

type bidderResp struct {
	ID      string   `json:"id"`
	Budget  int      `json:"budget"`
	Players []string `json:"players"`
}

type commandResp struct {
	Player event.PlayerSnapshot `json:"player"`
	Winner *bidderResp          `json:"winner"`
	Events []event.Event        `json:"events"`
}

func (f *fixture) seed(t *testing.T) (player playerResp, alice, bob bidderResp) {
	t.Helper()
	base := "/api/scopes/" + testScope
	check.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/players", f.admin,
		map[string]any{"name": "Virat", "position": "batter", "base_price": 100}, &player))
	check.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/bidders", f.admin,
		map[string]any{"name": "alice", "budget": 1000}, &alice))
	check.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, base+"/bidders", f.admin,
		map[string]any{"name": "bob", "budget": 300}, &bob))
	return player, alice, bob
}

func TestAuth(t *testing.T) {
	f := newFixture(t)
	path := "/api/scopes/" + testScope + "/players"

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
	}{
		{name: "no token", method: http.MethodGet, path: path, wantCode: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: path, token: "not-a-jwt", wantCode: http.StatusUnauthorized},
		{name: "wrong secret", method: http.MethodGet, path: path,
			token: mustIssue(t, httpapi.NewAuthenticator("other", "draftauction"), "x", httpapi.RoleAdmin, testScope), wantCode: http.StatusUnauthorized},
		{name: "wrong scope", method: http.MethodGet, path: path,
			token: f.token(t, "operator", httpapi.RoleAdmin, "other"), wantCode: http.StatusForbidden},
		{name: "any scope", method: http.MethodGet, path: path,
			token: f.token(t, "operator", httpapi.RoleAdmin, httpapi.AnyScope), wantCode: http.StatusOK},
		{name: "bidder cannot open", method: http.MethodPost, path: "/api/scopes/" + testScope + "/auction/open-random",
			token: f.token(t, "b1", httpapi.RoleBidder, testScope), wantCode: http.StatusForbidden},
		{name: "admin cannot bid", method: http.MethodPost, path: "/api/scopes/" + testScope + "/bids",
			token: f.admin, wantCode: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var er errResp
			code := f.do(t, tt.method, tt.path, tt.token, nil, &er)
			check.Equal(t, tt.wantCode, code)
		})
	}
}

func mustIssue(t *testing.T, a *httpapi.Authenticator, sub, role, scope string) string {
	t.Helper()
	tok, err := a.Issue(sub, role, scope, time.Hour)
	assert.NoError(t, err)
	return tok
}

func TestAuctionFlow(t *testing.T) {
	f := newFixture(t)
	base := "/api/scopes/" + testScope
	player, alice, bob := f.seed(t)
	aliceTok := f.token(t, alice.ID, httpapi.RoleBidder, testScope)
	bobTok := f.token(t, bob.ID, httpapi.RoleBidder, testScope)

	// Bidding before the player is opened is rejected.
	var er errResp
	check.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/bids", aliceTok,
		map[string]any{"player_id": player.ID, "amount": 150}, &er))
	check.Equal(t, "auction_not_active", er.Reason)

	var cr commandResp
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/auction/open", f.admin,
		map[string]any{"player_id": player.ID}, &cr))
	check.Equal(t, "in-auction", cr.Player.Status)

	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/bids", aliceTok,
		map[string]any{"player_id": player.ID, "amount": 150}, &cr))
	check.Equal(t, 150, cr.Player.Price)
	check.Equal(t, alice.ID, cr.Player.Leader)

	er = errResp{}
	check.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/bids", bobTok,
		map[string]any{"player_id": player.ID, "amount": 150}, &er))
	check.Equal(t, "bid_too_low", er.Reason)

	er = errResp{}
	check.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/bids", bobTok,
		map[string]any{"player_id": player.ID, "amount": 400}, &er))
	check.Equal(t, "insufficient_budget", er.Reason)

	var state struct {
		Sequence  int64                 `json:"sequence"`
		Player    *event.PlayerSnapshot `json:"player"`
		Watchers  int                   `json:"watchers"`
		Remaining int                   `json:"remaining"`
	}
	check.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/auction", aliceTok, nil, &state))
	assert.NotNil(t, state.Player)
	check.Equal(t, 150, state.Player.Price)
	check.Equal(t, 0, state.Watchers)
	check.Equal(t, 0, state.Remaining)

	cr = commandResp{}
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/auction/sold", f.admin,
		map[string]any{"player_id": player.ID}, &cr))
	check.Equal(t, "sold", cr.Player.Status)
	assert.NotNil(t, cr.Winner)
	check.Equal(t, 850, cr.Winner.Budget)

	var me bidderResp
	check.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/bidders/me", aliceTok, nil, &me))
	check.Equal(t, 850, me.Budget)
	check.Equal(t, []string{player.ID}, me.Players)

	var bids []struct {
		BidderID string `json:"bidder_id"`
		Amount   int    `json:"amount"`
	}
	check.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/players/"+player.ID+"/bids", aliceTok, nil, &bids))
	check.Equal(t, 1, len(bids))

	var events []event.Event
	check.Equal(t, http.StatusOK, f.do(t, http.MethodGet, base+"/events?since=3", f.admin, nil, &events))
	assert.True(t, len(events) > 0)
	check.Equal(t, int64(4), events[0].Sequence)
	check.Equal(t, event.AuctionOpened, events[0].Type)

	check.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, base+"/events?since=abc", f.admin, nil, &er))
}

func TestRosterErrors(t *testing.T) {
	f := newFixture(t)
	base := "/api/scopes/" + testScope
	player, alice, _ := f.seed(t)

	var er errResp
	check.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, base+"/players", f.admin,
		map[string]any{"name": "Cheap", "base_price": 0}, &er))
	check.Equal(t, "invalid_amount", er.Reason)

	check.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, base+"/players", f.admin,
		map[string]any{"name": "X", "base_price": 10, "extra": true}, &er))

	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/auction/open", f.admin,
		map[string]any{"player_id": player.ID}, nil))

	er = errResp{}
	check.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, base+"/players/"+player.ID, f.admin, nil, &er))
	check.Equal(t, "player_locked", er.Reason)

	er = errResp{}
	check.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, base+"/auction/open-random", f.admin, nil, &er))
	check.Equal(t, "conflict", er.Reason)

	var b bidderResp
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPut, base+"/bidders/"+alice.ID+"/budget", f.admin,
		map[string]any{"budget": 50}, &b))
	check.Equal(t, 50, b.Budget)

	er = errResp{}
	check.Equal(t, http.StatusNotFound, f.do(t, http.MethodPut, base+"/bidders/missing/budget", f.admin,
		map[string]any{"budget": 50}, &er))
	check.Equal(t, "not_found", er.Reason)
}

func TestHealthRoutes(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/readyz")
	assert.NoError(t, err)
	resp.Body.Close()
	check.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	base := "/api/scopes/" + testScope
	player, alice, _ := f.seed(t)
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/auction/open", f.admin,
		map[string]any{"player_id": player.ID}, nil))

	tok := f.token(t, alice.ID, httpapi.RoleBidder, testScope)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/scopes/" + testScope + "?access_token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	read := func() event.Event {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var e event.Event
		assert.NoError(t, conn.ReadJSON(&e))
		return e
	}

	snap := read()
	check.Equal(t, event.Snapshot, snap.Type)
	check.Equal(t, int64(4), snap.Sequence)
	var data event.SnapshotData
	assert.NoError(t, snap.Decode(&data))
	assert.NotNil(t, data.Player)
	check.Equal(t, player.ID, data.Player.ID)

	// Wait for the subscription to be registered before bidding.
	deadline := time.Now().Add(time.Second)
	for f.hub.Count(testScope) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	check.Equal(t, http.StatusOK, f.do(t, http.MethodPost, base+"/bids", tok,
		map[string]any{"player_id": player.ID, "amount": 120}, nil))

	live := read()
	check.Equal(t, event.AuctionBidAccepted, live.Type)
	check.Equal(t, int64(5), live.Sequence)
}

func TestStream_RequiresToken(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/scopes/" + testScope
	_, resp, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	check.Error(t, err)
	assert.NotNil(t, resp)
	check.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
