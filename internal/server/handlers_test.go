package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"

	"mandalaquest/internal/challenge"
	"mandalaquest/internal/metrics"
	"mandalaquest/internal/observability"
	"mandalaquest/internal/session"
	"mandalaquest/internal/signal"
	"mandalaquest/internal/target"
	"mandalaquest/internal/teams"
	"mandalaquest/internal/wshub"
)

func newTestServer(t *testing.T, sessCfg session.Config, rate int) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	store := teams.NewStore(teams.Config{
		Session: sessCfg,
		Sources: func(context.Context) (signal.Source, error) {
			return signal.NewSynthetic(rate), nil
		},
		Tick:   5 * time.Millisecond,
		Levels: 3,
	}, nil, metrics.New(reg), observability.Discard())

	srv := &Server{
		Teams:    store,
		Registry: reg,
		Logger:   observability.Discard(),
	}
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})
	return srv, ts
}

func defaultTestServer(t *testing.T) (*Server, *httptest.Server) {
	cfg := session.DefaultConfig()
	cfg.Countdown = 0
	return newTestServer(t, cfg, 50)
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func post(t *testing.T, u string, form url.Values) *http.Response {
	t.Helper()
	resp, err := http.PostForm(u, form)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

// createTeam creates a team via the API and returns its code.
func createTeam(t *testing.T, baseURL, team string) string {
	t.Helper()
	resp := post(t, baseURL+"/teams", url.Values{"team": {team}})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}
	var body struct {
		Code string `json:"code"`
		Team string `json:"team"`
	}
	decode(t, resp, &body)
	if body.Code == "" {
		t.Fatal("expected a team code")
	}
	return body.Code
}

func completeStages(t *testing.T, baseURL, code string, level int) {
	t.Helper()
	for _, stage := range []string{"scroll", "cipher"} {
		resp := post(t, baseURL+"/teams/"+code+"/stages", url.Values{
			"level": {strconv.Itoa(level)},
			"stage": {stage},
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("completing %s: status = %d", stage, resp.StatusCode)
		}
	}
}

func TestHandleHealth(t *testing.T) {
	_, ts := defaultTestServer(t)
	createTeam(t, ts.URL, "north")

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	decode(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["teams"] != 1.0 {
		t.Errorf("teams = %v, want 1", body["teams"])
	}
}

func TestHandleCreateTeam(t *testing.T) {
	srv, ts := defaultTestServer(t)

	code := createTeam(t, ts.URL, "East")
	if !strings.HasPrefix(code, "E") {
		t.Errorf("code %q should start with the team initial", code)
	}
	if in := srv.Teams.Get(code); in == nil || in.Team != "East" {
		t.Errorf("team instance not stored for %q", code)
	}

	resp := post(t, ts.URL+"/teams", url.Values{"team": {"Center"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown team status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleDeleteTeam(t *testing.T) {
	srv, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "West")

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/teams/"+code, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if srv.Teams.Get(code) != nil {
		t.Error("team should be removed")
	}
}

func TestHandleState_UnknownCode(t *testing.T) {
	_, ts := defaultTestServer(t)

	resp, err := http.Get(ts.URL + "/teams/NZZZZ/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleState_LowercaseCode(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "South")

	resp, err := http.Get(ts.URL + "/teams/" + strings.ToLower(code) + "/state")
	if err != nil {
		t.Fatal(err)
	}
	var snap session.Snapshot
	decode(t, resp, &snap)
	if snap.OuterPhase != session.PhaseSetup {
		t.Errorf("outer phase = %q, want setup", snap.OuterPhase)
	}
	if snap.Team != "South" {
		t.Errorf("team = %q, want South", snap.Team)
	}
}

func TestHandleStart_BeforeSetup(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")

	resp := post(t, ts.URL+"/teams/"+code+"/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestHandleChallenge_Locked(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")

	resp := post(t, ts.URL+"/teams/"+code+"/challenge", url.Values{"level": {"0"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp = post(t, ts.URL+"/teams/"+code+"/stages", url.Values{"level": {"0"}, "stage": {"cipher"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("cipher before scroll status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp = post(t, ts.URL+"/teams/"+code+"/stages", url.Values{"level": {"0"}, "stage": {"challenge"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("challenge stage status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleChallenge_AfterStages(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")
	completeStages(t, ts.URL, code, 0)

	resp := post(t, ts.URL+"/teams/"+code+"/challenge", url.Values{"level": {"0"}, "variant": {"earth"}})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown variant status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	resp = post(t, ts.URL+"/teams/"+code+"/challenge", url.Values{"level": {"0"}})
	var snap session.Snapshot
	decode(t, resp, &snap)
	if snap.GameMode != challenge.Fire {
		t.Errorf("game mode = %q, want fire for level 0", snap.GameMode)
	}

	resp, err := http.Get(ts.URL + "/teams/" + code + "/progress")
	if err != nil {
		t.Fatal(err)
	}
	var prog struct {
		Stage string `json:"stage"`
		Done  int    `json:"stages_done"`
	}
	decode(t, resp, &prog)
	if prog.Stage != "challenge" || prog.Done != 2 {
		t.Errorf("progress = %+v, want challenge after 2 stages", prog)
	}
}

func TestHandleStartAndReset(t *testing.T) {
	srv, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")
	completeStages(t, ts.URL, code, 0)
	post(t, ts.URL+"/teams/"+code+"/challenge", url.Values{"level": {"0"}}).Body.Close()

	resp := post(t, ts.URL+"/teams/"+code+"/decoded", url.Values{"text": {"breathe"}})
	resp.Body.Close()

	resp = post(t, ts.URL+"/teams/"+code+"/start", nil)
	var snap session.Snapshot
	decode(t, resp, &snap)
	if snap.OuterPhase != session.PhaseActive {
		t.Errorf("outer phase = %q, want active", snap.OuterPhase)
	}
	if snap.DecodedText != "breathe" {
		t.Errorf("decoded text = %q", snap.DecodedText)
	}

	resp = post(t, ts.URL+"/teams/"+code+"/start", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}

	resp = post(t, ts.URL+"/teams/"+code+"/reset", nil)
	decode(t, resp, &snap)
	if snap.OuterPhase != session.PhaseSetup {
		t.Errorf("after reset outer phase = %q, want setup", snap.OuterPhase)
	}
	if srv.Teams.Get(code).Busy() {
		t.Error("instance should not be busy after reset")
	}
}

func TestHandleResult_NotComplete(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")

	resp, err := http.Get(ts.URL + "/teams/" + code + "/result")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandleLeaderboard(t *testing.T) {
	_, ts := defaultTestServer(t)

	resp, err := http.Get(ts.URL + "/leaderboard")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	var entries []map[string]any
	decode(t, resp, &entries)
	if len(entries) != 0 {
		t.Errorf("expected an empty leaderboard, got %d entries", len(entries))
	}

	resp, err = http.Get(ts.URL + "/leaderboard?cat=speed")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad category status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestHandleMetrics(t *testing.T) {
	_, ts := defaultTestServer(t)
	createTeam(t, ts.URL, "North")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mandala_active_sessions 1") {
		t.Errorf("metrics missing active sessions gauge:\n%s", body)
	}
}

func TestHandleEvents_StreamsState(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/teams/"+code+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: state" {
			if !scanner.Scan() || !strings.HasPrefix(scanner.Text(), "data: {") {
				t.Fatalf("expected a JSON data line, got %q", scanner.Text())
			}
			return
		}
	}
	t.Fatal("no state event received")
}

func TestHandleWS_SendsStateAndCommands(t *testing.T) {
	_, ts := defaultTestServer(t)
	code := createTeam(t, ts.URL, "North")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/teams/" + code + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.CloseNow()

	var msg wshub.ServerMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "state" {
		t.Fatalf("first message type = %q, want state", msg.Type)
	}
	var snap session.Snapshot
	if err := json.Unmarshal(msg.Data, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Team != "North" {
		t.Errorf("team = %q, want North", snap.Team)
	}

	// starting before a challenge is chosen is rejected to this client only
	if err := wsjson.Write(ctx, conn, wshub.ClientMessage{Type: "start"}); err != nil {
		t.Fatal(err)
	}
	for {
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type == "error" {
			break
		}
	}
	if msg.Command != "start" || msg.Error == "" {
		t.Errorf("error message = %+v", msg)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestEndToEnd_ChallengeCompletes(t *testing.T) {
	p := challenge.DefaultProfiles()[challenge.Fire]
	p.CalibrationStart = 0.05
	p.CalibrationEnd = 0.1
	p.Target = target.Config{Kind: target.SingleRamp, Start: 0.1, End: 0.3, Delta: 5}

	cfg := session.DefaultConfig()
	cfg.Countdown = 0
	cfg.Profiles[challenge.Fire] = p
	_, ts := newTestServer(t, cfg, 200)

	code := createTeam(t, ts.URL, "North")
	completeStages(t, ts.URL, code, 0)
	post(t, ts.URL+"/teams/"+code+"/challenge", url.Values{"level": {"0"}}).Body.Close()
	post(t, ts.URL+"/teams/"+code+"/start", nil).Body.Close()

	var result struct {
		AttemptID string `json:"attempt_id"`
		Badges    []struct {
			ID string `json:"id"`
		} `json:"badges"`
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(ts.URL + "/teams/" + code + "/result")
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode == http.StatusOK {
			decode(t, resp, &result)
			break
		}
		resp.Body.Close()
		if time.Now().After(deadline) {
			t.Fatal("challenge never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if result.AttemptID == "" {
		t.Error("result should carry the attempt id")
	}
	found := false
	for _, b := range result.Badges {
		if b.ID == "first_breath" {
			found = true
		}
	}
	if !found {
		t.Errorf("badges = %+v, want first_breath", result.Badges)
	}

	// the completion hook runs after the result is visible
	deadline = time.Now().Add(time.Second)
	for {
		resp, err := http.Get(ts.URL + "/teams/" + code + "/progress")
		if err != nil {
			t.Fatal(err)
		}
		var prog struct {
			Level int    `json:"level"`
			Stage string `json:"stage"`
		}
		decode(t, resp, &prog)
		if prog.Level == 1 && prog.Stage == "scroll" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("progress = %+v, want level 1 scroll", prog)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/leaderboard?cat=score")
	if err != nil {
		t.Fatal(err)
	}
	var entries []struct {
		Team string `json:"team"`
	}
	decode(t, resp, &entries)
	if len(entries) != 1 || entries[0].Team != "North" {
		t.Errorf("leaderboard = %+v, want North only", entries)
	}
}
