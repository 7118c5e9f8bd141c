package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketsim/internal/archive"
	"marketsim/internal/config"
	"marketsim/internal/game"
	"marketsim/internal/sim"
	"marketsim/internal/store"
)

func newTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := game.NewService(st, nil, logger)
	srv := New(config.APIConfig{APIToken: token, ResearchCacheSize: 8}, logger, svc)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestGameFlowOverHTTP(t *testing.T) {
	srv, ts := newTestServer(t, "")

	var g game.Game
	if code := doJSON(t, ts, http.MethodPost, "/v1/games", map[string]any{
		"name": "Cup", "scenario_id": "local-launch", "rivals": 1,
	}, &g); code != http.StatusCreated {
		t.Fatalf("create game status %d", code)
	}

	var team game.Team
	if code := doJSON(t, ts, http.MethodPost, "/v1/games/join", map[string]any{
		"code": strings.ToLower(g.Code), "team_name": "Velo",
	}, &team); code != http.StatusCreated {
		t.Fatalf("join status %d", code)
	}

	var brand game.Brand
	if code := doJSON(t, ts, http.MethodPost, "/v1/teams/"+team.ID+"/brands", map[string]any{
		"name": "Glide", "target_segment": "Worker",
		"components": sim.Components{Frame: 3, Wheels: 3, Drivetrain: 2, Brakes: 3, Suspension: 2, Seat: 4, Handlebars: 3},
	}, &brand); code != http.StatusCreated {
		t.Fatalf("create brand status %d", code)
	}
	if brand.UnitCost != sim.UnitCost(brand.Components) {
		t.Fatalf("unit cost %d not derived", brand.UnitCost)
	}

	var apiErr map[string]string
	if code := doJSON(t, ts, http.MethodPost, "/v1/teams/"+team.ID+"/decisions", map[string]any{
		"final":    true,
		"decision": map[string]any{"advertising": map[string]any{"latam": 5000}},
	}, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("flat region budget status %d (%v)", code, apiErr)
	}

	if code := doJSON(t, ts, http.MethodPost, "/v1/games/"+g.ID+"/advance", nil, &apiErr); code != http.StatusConflict {
		t.Fatalf("advance before submit status %d", code)
	}

	var rec game.DecisionRecord
	if code := doJSON(t, ts, http.MethodPost, "/v1/teams/"+team.ID+"/decisions", map[string]any{
		"final": true,
		"decision": map[string]any{
			"pricing":      map[string]any{"default": 800},
			"distribution": map[string]any{"latam": map[string]any{"outlets": 4}},
		},
	}, &rec); code != http.StatusOK {
		t.Fatalf("submit status %d", code)
	}
	if rec.Status != game.DecisionSubmitted {
		t.Fatalf("unexpected record: %+v", rec)
	}

	var summary game.RoundSummary
	if code := doJSON(t, ts, http.MethodPost, "/v1/games/"+g.ID+"/advance", nil, &summary); code != http.StatusOK {
		t.Fatalf("advance status %d", code)
	}
	if summary.Round != 1 || len(summary.Results) != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	var board struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	if code := doJSON(t, ts, http.MethodGet, "/v1/games/"+g.ID+"/leaderboard", nil, &board); code != http.StatusOK {
		t.Fatalf("leaderboard status %d", code)
	}
	if len(board.Rows) != 2 || board.Rows[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", board.Rows)
	}

	for i := 0; i < 2; i++ {
		var mr sim.MarketResearch
		if code := doJSON(t, ts, http.MethodGet, "/v1/games/"+g.ID+"/rounds/1/research", nil, &mr); code != http.StatusOK {
			t.Fatalf("research status %d", code)
		}
		if mr.Round != 1 {
			t.Fatalf("unexpected research round %d", mr.Round)
		}
	}
	if srv.research.Len() != 1 {
		t.Fatalf("research cache holds %d entries want 1", srv.research.Len())
	}
	if code := doJSON(t, ts, http.MethodGet, "/v1/games/"+g.ID+"/rounds/2/research", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("unresolved research status %d", code)
	}
	if code := doJSON(t, ts, http.MethodGet, "/v1/games/"+g.ID+"/rounds/zero/results", nil, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("bad round status %d", code)
	}

	var results struct {
		Results []sim.RoundResult `json:"results"`
	}
	if code := doJSON(t, ts, http.MethodGet, "/v1/teams/"+team.ID+"/results", nil, &results); code != http.StatusOK {
		t.Fatalf("team results status %d", code)
	}
	if len(results.Results) != 1 || results.Results[0].TeamID != team.ID {
		t.Fatalf("unexpected results: %+v", results.Results)
	}

	resp, err := ts.Client().Get(ts.URL + "/v1/games/" + g.ID + "/export")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/zstd" {
		t.Fatalf("export content type %q", resp.Header.Get("Content-Type"))
	}
	a, err := archive.Read(resp.Body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if a.Game.ID != g.ID || len(a.Teams) != 2 || len(a.Research) != 1 {
		t.Fatalf("unexpected export: game=%s teams=%d research=%d", a.Game.ID, len(a.Teams), len(a.Research))
	}
}

func TestDomainErrors(t *testing.T) {
	_, ts := newTestServer(t, "")
	var apiErr map[string]string

	if code := doJSON(t, ts, http.MethodGet, "/v1/games/nope", nil, &apiErr); code != http.StatusNotFound {
		t.Fatalf("missing game status %d", code)
	}
	if code := doJSON(t, ts, http.MethodPost, "/v1/games", map[string]any{
		"name": "X", "scenario_id": "moon-base",
	}, &apiErr); code != http.StatusNotFound {
		t.Fatalf("unknown scenario status %d", code)
	}
	if code := doJSON(t, ts, http.MethodPost, "/v1/games", map[string]any{
		"name": "X", "scenario_id": "local-launch", "extra": true,
	}, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("unknown field status %d", code)
	}

	var g game.Game
	doJSON(t, ts, http.MethodPost, "/v1/games", map[string]any{"name": "Y", "scenario_id": "local-launch"}, &g)
	var team game.Team
	doJSON(t, ts, http.MethodPost, "/v1/games/join", map[string]any{"code": g.Code, "team_name": "Solo"}, &team)
	if code := doJSON(t, ts, http.MethodPost, "/v1/teams/"+team.ID+"/decisions", map[string]any{
		"decision": map[string]any{"rd_budget": 50_000_000},
	}, &apiErr); code != http.StatusUnprocessableEntity {
		t.Fatalf("over budget status %d", code)
	}
	if code := doJSON(t, ts, http.MethodPost, "/v1/teams/"+team.ID+"/brands", map[string]any{
		"name": "Odd", "target_segment": "Speed",
	}, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("unknown segment status %d", code)
	}
}

func TestTokenMiddleware(t *testing.T) {
	_, ts := newTestServer(t, "s3cret")

	resp, err := ts.Client().Get(ts.URL + "/v1/scenarios")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/scenarios", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status %d", resp.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = ts.Client().Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good token status %d", resp.StatusCode)
	}

	resp, err = ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status %d", resp.StatusCode)
	}
}

func TestRoundStream(t *testing.T) {
	srv, ts := newTestServer(t, "")
	var g game.Game
	if code := doJSON(t, ts, http.MethodPost, "/v1/games", map[string]any{
		"name": "Live", "scenario_id": "speed-innovation", "rivals": 2,
	}, &g); code != http.StatusCreated {
		t.Fatalf("create game status %d", code)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/games/" + g.ID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for srv.hub.Subscribers(g.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if code := doJSON(t, ts, http.MethodPost, "/v1/games/"+g.ID+"/advance", map[string]any{"force": true}, nil); code != http.StatusOK {
		t.Fatalf("advance status %d", code)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev game.RoundEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.GameID != g.ID || ev.Round != 1 || !ev.Forced || len(ev.Leaderboard) != 2 {
		t.Fatalf("unexpected event: %+v", ev)
	}

	if _, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/v1/games/missing/stream", nil); err == nil {
		t.Fatalf("expected stream for missing game to fail")
	}
}
