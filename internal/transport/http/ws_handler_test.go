package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"versus-quiz-service/internal/app"
	"versus-quiz-service/internal/domain"
	"versus-quiz-service/internal/infra/file"
	"versus-quiz-service/internal/infra/memory"
	"versus-quiz-service/internal/opponent"
	"versus-quiz-service/internal/stream"
)

func newTestServer(t *testing.T, clock *clockwork.FakeClock) (*httptest.Server, *app.MatchService) {
	t.Helper()
	questions := memory.NewQuestionRepository(memory.NewStaticQuestionLoader(sampleQuestions()), time.Minute, clock)
	transcripts := file.NewStaticTranscriptStore([]domain.LlmTranscript{{
		QuestionID:  "q1",
		ProfileName: "gpt-fast",
		FinalAnswer: domain.MultipleChoiceAnswer{ChoiceIndex: 0},
	}})
	registry := opponent.NewRegistry([]domain.OpponentSpec{{
		ID:          "replay",
		Mode:        domain.ModeLightweight,
		DisplayName: "Replay",
		ProfileName: "gpt-fast",
	}}, transcripts, stream.NewPacer(clock))

	service := app.NewMatchService(app.Dependencies{
		Sessions:  memory.NewSessionStore(),
		Questions: questions,
		Opponents: registry,
		Registry:  memory.NewActiveSessions(),
		Results:   memory.NewResultStore(),
		Clock:     clock,
	}, app.Settings{})
	t.Cleanup(service.Close)

	ws := NewWSHandler(service, WSOptions{MessageWindow: time.Minute, MessageMax: 100, Clock: clock})
	server := httptest.NewServer(NewRouter(service, ws, nil))
	t.Cleanup(server.Close)
	return server, service
}

func TestWebSocketRoundFlow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	server, _ := newTestServer(t, clock)

	conn := dial(t, server, "playerId=u1&name=Alice&opponent=replay")

	// Expect joined event first.
	_, payload := readNext(conn, t, "joined")
	if payload["sessionId"] == "" || payload["resumed"] != false {
		t.Fatalf("unexpected joined payload %v", payload)
	}

	send(t, conn, "start_round", map[string]any{"questionId": "q1"})
	_, round := readNext(conn, t, "round_started")
	roundID, _ := round["roundId"].(string)
	if roundID == "" || round["handicapMs"] != float64(8000) {
		t.Fatalf("unexpected round payload %v", round)
	}

	send(t, conn, "answer", map[string]any{
		"roundId": roundID,
		"answer":  map[string]any{"type": "multiple_choice", "choiceIndex": 1},
	})
	if _, p := readNext(conn, t, "submission_received"); p["side"] != string(domain.SideHuman) {
		t.Fatalf("expected human submission, got %v", p)
	}

	clock.Advance(8 * time.Second)

	var final, resolved map[string]any
	for resolved == nil {
		typ, p := readNext(conn, t, "")
		switch typ {
		case "llm_stream":
			final = p
		case "round_resolved":
			resolved = p
		}
	}
	if final == nil || final["kind"] != "final" || final["seq"] != float64(0) {
		t.Fatalf("expected streamed final answer, got %v", final)
	}
	if resolved["winner"] != string(domain.WinnerHuman) || resolved["reason"] != string(domain.ReasonNormal) {
		t.Fatalf("unexpected result %v", resolved)
	}

	send(t, conn, "answer", map[string]any{
		"roundId": roundID,
		"answer":  map[string]any{"type": "integer"},
	})
	if _, p := readNext(conn, t, "error"); p["code"] != "malformed_answer" {
		t.Fatalf("expected malformed answer error, got %v", p)
	}
}

func TestWebSocketResumeHandsOverSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	server, _ := newTestServer(t, clock)

	first := dial(t, server, "playerId=u1&name=Alice&opponent=replay")
	_, joined := readNext(first, t, "joined")

	second := dial(t, server, "playerId=u1&name=Alice&opponent=replay")
	_, rejected := readNext(second, t, "error")
	binding, _ := rejected["binding"].(map[string]any)
	if rejected["code"] != "session_active" || binding["sessionId"] != joined["sessionId"] {
		t.Fatalf("expected session_active with binding, got %v", rejected)
	}

	third := dial(t, server, "playerId=u1&resume=1")
	_, resumed := readNext(third, t, "joined")
	if resumed["sessionId"] != joined["sessionId"] || resumed["resumed"] != true {
		t.Fatalf("unexpected resume payload %v", resumed)
	}

	resp, err := http.Get(server.URL + "/api/players/u1/session")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	defer resp.Body.Close()
	var got domain.ActiveSessionBinding
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil || got.SessionID != joined["sessionId"] {
		t.Fatalf("unexpected binding %+v (%v)", got, err)
	}

	send(t, third, "leave", nil)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(server.URL + "/api/players/u1/session")
		if err != nil {
			t.Fatalf("get session: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session still active after leave")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTerminateEndpointClosesConnection(t *testing.T) {
	server, _ := newTestServer(t, clockwork.NewFakeClock())

	conn := dial(t, server, "playerId=u1&name=Alice&opponent=replay")
	_, joined := readNext(conn, t, "joined")

	resp, err := http.Post(server.URL+"/api/players/u1/session/terminate", "application/json", nil)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	var body terminatedPayload
	err = json.NewDecoder(resp.Body).Decode(&body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK || body.SessionID != joined["sessionId"] {
		t.Fatalf("unexpected terminate response %d %+v (%v)", resp.StatusCode, body, err)
	}

	readNext(conn, t, sessionClosedType)
	var msg map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v (%v)", err, msg)
	}

	again, err := http.Post(server.URL+"/api/players/u1/session/terminate", "application/json", nil)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	again.Body.Close()
	if again.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 with nothing to terminate, got %d", again.StatusCode)
	}

	rejoined := dial(t, server, "playerId=u1&name=Alice&opponent=replay")
	readNext(rejoined, t, "joined")
}

func TestAPIListsOpponentsAndLeaderboard(t *testing.T) {
	server, _ := newTestServer(t, clockwork.NewFakeClock())

	resp, err := http.Get(server.URL + "/api/opponents")
	if err != nil {
		t.Fatalf("get opponents: %v", err)
	}
	defer resp.Body.Close()
	var opponents []opponentView
	if err := json.NewDecoder(resp.Body).Decode(&opponents); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(opponents) != 1 || opponents[0].ID != "replay" || opponents[0].Mode != domain.ModeLightweight {
		t.Fatalf("unexpected opponents %+v", opponents)
	}

	bad, err := http.Get(server.URL + "/api/leaderboard?mode=TURBO")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", bad.StatusCode)
	}

	ok, err := http.Get(server.URL + "/api/leaderboard?mode=LIGHTWEIGHT&limit=5")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	defer ok.Body.Close()
	var entries []domain.LeaderboardEntry
	if err := json.NewDecoder(ok.Body).Decode(&entries); err != nil || entries == nil {
		t.Fatalf("expected empty list, got %v (%v)", entries, err)
	}
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrDeadlinePassed, "deadline_passed"},
		{fmt.Errorf("wrap: %w", domain.ErrRateLimited), "rate_limited"},
		{domain.ErrNicknameSpacing, "invalid_nickname"},
		{&domain.SessionActiveError{}, "session_active"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.want {
			t.Fatalf("%v: expected %s, got %s", tc.err, tc.want, got)
		}
	}
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func sampleQuestions() []domain.Question {
	return []domain.Question{{
		ID:         "q1",
		Prompt:     "Which planet is known as the red planet?",
		Choices:    []string{"Venus", "Mars", "Jupiter", "Saturn"},
		Difficulty: domain.DifficultyEasy,
		Verifier:   domain.MultipleChoiceSpec{CorrectIndex: 1},
	}}
}
