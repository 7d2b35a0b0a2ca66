package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/examprep/internal/clock"
	"github.com/pavelanni/examprep/internal/grading"
	"github.com/pavelanni/examprep/internal/i18n"
	"github.com/pavelanni/examprep/internal/model"
	"github.com/pavelanni/examprep/internal/session"
	"github.com/pavelanni/examprep/internal/store"
)

const examJSON = `{"title": "Biology", "questions": [
  {"id": 1, "type": "mcq", "question": "Pick B", "options": ["A", "B", "C", "D"], "correctAnswer": "B", "difficulty": "easy", "points": 5},
  {"id": 2, "type": "trueFalse", "question": "Is it true?", "correctAnswer": "True", "difficulty": "easy", "points": 5},
  {"id": 3, "type": "shortAnswer", "question": "What do mitochondria do?", "correctAnswer": "Mitochondria produces cellular energy", "difficulty": "medium", "points": 10}
]}`

func TestMain(m *testing.M) {
	if err := i18n.Init("en"); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type stubGenerator struct {
	output string
}

func (g stubGenerator) GenerateExam(context.Context, model.GenerationRequest) (string, error) {
	return g.output, nil
}

type switchGrader struct {
	mu   sync.Mutex
	fail error
}

func (g *switchGrader) Grade(ctx context.Context, qs []model.Question, answers map[int]string, elapsed int) (model.GradingResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fail != nil {
		return model.GradingResult{}, g.fail
	}
	return grading.Local{}.Grade(ctx, qs, answers, elapsed)
}

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	clock  *clock.Manual
	grader *switchGrader
	h      *Handler
}

func newTestServer(t *testing.T, output string, notes model.StudyNotes) *testServer {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	err = db.ImportResource(context.Background(), model.ResourceImport{
		ID: "bio", Title: "Biology", Content: "Cells and energy.", Notes: notes,
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	ts := &testServer{t: t, clock: clock.NewManual(), grader: &switchGrader{}}
	reg := session.NewRegistry(session.Deps{
		Generator: stubGenerator{output: output},
		Store:     db,
		Grader:    ts.grader,
		Clock:     ts.clock,
	}, model.ExamConfig{Difficulty: model.DifficultyMedium, DurationMinutes: 1})
	t.Cleanup(reg.CloseAll)

	ts.h = New(db, reg)
	r := chi.NewRouter()
	r.Use(i18n.Middleware("en"))
	ts.h.Routes(r)
	ts.srv = httptest.NewServer(r)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) (int, map[string]any) {
	ts.t.Helper()
	var rdr *bytes.Reader
	if body == "" {
		rdr = bytes.NewReader(nil)
	} else {
		rdr = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		ts.t.Fatalf("new request: %v", err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		ts.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			ts.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode, out
}

func (ts *testServer) create() string {
	ts.t.Helper()
	status, body := ts.do(http.MethodPost, "/sessions", `{"resource_id":"bio"}`)
	if status != http.StatusCreated {
		ts.t.Fatalf("create status = %d, body %v", status, body)
	}
	return body["id"].(string)
}

func (ts *testServer) started() string {
	ts.t.Helper()
	id := ts.create()
	status, body := ts.do(http.MethodPost, "/sessions/"+id+"/start", "")
	if status != http.StatusOK {
		ts.t.Fatalf("start status = %d, body %v", status, body)
	}
	return id
}

func questions(t *testing.T, state map[string]any) []map[string]any {
	t.Helper()
	exam, ok := state["exam"].(map[string]any)
	if !ok {
		t.Fatalf("state has no exam: %v", state)
	}
	var out []map[string]any
	for _, q := range exam["questions"].([]any) {
		out = append(out, q.(map[string]any))
	}
	return out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})

	status, body := ts.do(http.MethodGet, "/healthz", "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if body["sessions"].(float64) != 0 {
		t.Errorf("sessions = %v", body["sessions"])
	}

	ts.h.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })
	status, body = ts.do(http.MethodGet, "/healthz", "")
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "connection refused" {
		t.Errorf("dependencies = %v", deps)
	}
}

func TestListResources(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})

	resp, err := http.Get(ts.srv.URL + "/resources")
	if err != nil {
		t.Fatalf("GET /resources: %v", err)
	}
	defer resp.Body.Close()
	var list []model.Resource
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != "bio" {
		t.Errorf("resources = %+v", list)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"unknown resource", `{"resource_id":"chem"}`, http.StatusNotFound},
		{"missing resource id", `{}`, http.StatusBadRequest},
		{"malformed json", `{"resource_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(http.MethodPost, "/sessions", tt.body)
			if status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
			if body["error"] == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestSessionNotFound(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})

	for _, path := range []string{"/sessions/not-a-uuid", "/sessions/6f1c2a4e-0000-4000-8000-000000000000"} {
		status, body := ts.do(http.MethodGet, path, "")
		if status != http.StatusNotFound {
			t.Errorf("GET %s status = %d", path, status)
		}
		if body["error"] != "Session not found." {
			t.Errorf("error = %v", body["error"])
		}
	}
}

func TestExamFlow(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	id := ts.create()
	base := "/sessions/" + id

	status, state := ts.do(http.MethodPost, base+"/configure", `{"difficulty":"easy","duration_minutes":20}`)
	if status != http.StatusOK {
		t.Fatalf("configure status = %d, %v", status, state)
	}

	status, state = ts.do(http.MethodPost, base+"/start", "")
	if status != http.StatusOK {
		t.Fatalf("start status = %d, %v", status, state)
	}
	if state["phase"] != string(model.PhaseActive) {
		t.Fatalf("phase = %v", state["phase"])
	}
	if state["source"] != "generated" {
		t.Errorf("source = %v", state["source"])
	}
	if state["remaining_seconds"].(float64) != 1200 {
		t.Errorf("remaining = %v", state["remaining_seconds"])
	}
	qs := questions(t, state)
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for _, q := range qs {
		if _, ok := q["correct_answer"]; ok {
			t.Errorf("correct answer leaked before results: %v", q)
		}
	}
	if opts := qs[1]["options"].([]any); len(opts) != 2 {
		t.Errorf("true/false options = %v", opts)
	}

	answers := map[string]string{"1": "B", "2": "False", "3": "Mitochondria produces cellular energy"}
	for qid, v := range answers {
		status, state = ts.do(http.MethodPut, base+"/answers/"+qid, `{"value":"`+v+`"}`)
		if status != http.StatusOK {
			t.Fatalf("answer %s status = %d, %v", qid, status, state)
		}
	}
	status, state = ts.do(http.MethodPost, base+"/flags/3", "")
	if status != http.StatusOK {
		t.Fatalf("flag status = %d", status)
	}
	if flagged := state["flagged"].([]any); len(flagged) != 1 || flagged[0].(float64) != 3 {
		t.Errorf("flagged = %v", flagged)
	}
	status, state = ts.do(http.MethodPost, base+"/navigate", `{"index":2}`)
	if status != http.StatusOK || state["current_index"].(float64) != 2 {
		t.Errorf("navigate status = %d, index = %v", status, state["current_index"])
	}

	ts.clock.Advance(30)
	status, state = ts.do(http.MethodPost, base+"/submit", "")
	if status != http.StatusOK {
		t.Fatalf("submit status = %d, %v", status, state)
	}
	if state["phase"] != string(model.PhaseResults) {
		t.Fatalf("phase = %v", state["phase"])
	}
	result := state["result"].(map[string]any)
	if result["score"].(float64) != 15 || result["total_points"].(float64) != 20 {
		t.Errorf("score = %v/%v", result["score"], result["total_points"])
	}
	if result["percentage"].(float64) != 75 || result["grade"] != "B" {
		t.Errorf("percentage = %v grade = %v", result["percentage"], result["grade"])
	}
	for _, q := range questions(t, state) {
		if q["correct_answer"] == nil {
			t.Errorf("correct answer hidden after results: %v", q)
		}
	}

	status, state = ts.do(http.MethodPost, base+"/retake", "")
	if status != http.StatusOK || state["phase"] != string(model.PhaseSetup) {
		t.Fatalf("retake status = %d phase = %v", status, state["phase"])
	}
	if len(state["answers"].(map[string]any)) != 0 {
		t.Errorf("answers survived retake: %v", state["answers"])
	}
	cfg := state["config"].(map[string]any)
	if cfg["difficulty"] != "easy" || cfg["duration_minutes"].(float64) != 20 {
		t.Errorf("config not kept across retake: %v", cfg)
	}
}

func TestPhaseAndValidationErrors(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	setupID := ts.create()
	activeID := ts.started()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"submit in setup", http.MethodPost, "/sessions/" + setupID + "/submit", "", http.StatusConflict},
		{"answer in setup", http.MethodPut, "/sessions/" + setupID + "/answers/1", `{"value":"B"}`, http.StatusConflict},
		{"duration too long", http.MethodPost, "/sessions/" + setupID + "/configure", `{"difficulty":"hard","duration_minutes":500}`, http.StatusUnprocessableEntity},
		{"unknown difficulty", http.MethodPost, "/sessions/" + setupID + "/configure", `{"difficulty":"brutal","duration_minutes":10}`, http.StatusUnprocessableEntity},
		{"missing duration", http.MethodPost, "/sessions/" + setupID + "/configure", `{"difficulty":"hard"}`, http.StatusUnprocessableEntity},
		{"zero duration", http.MethodPost, "/sessions/" + setupID + "/configure", `{"difficulty":"hard","duration_minutes":0}`, http.StatusUnprocessableEntity},
		{"missing difficulty", http.MethodPost, "/sessions/" + setupID + "/configure", `{"duration_minutes":10}`, http.StatusUnprocessableEntity},
		{"malformed configure body", http.MethodPost, "/sessions/" + setupID + "/configure", `{"difficulty":`, http.StatusBadRequest},
		{"configure while active", http.MethodPost, "/sessions/" + activeID + "/configure", `{"difficulty":"hard","duration_minutes":10}`, http.StatusConflict},
		{"start twice", http.MethodPost, "/sessions/" + activeID + "/start", "", http.StatusConflict},
		{"unknown question", http.MethodPut, "/sessions/" + activeID + "/answers/99", `{"value":"x"}`, http.StatusUnprocessableEntity},
		{"bad question id", http.MethodPost, "/sessions/" + activeID + "/flags/abc", "", http.StatusBadRequest},
		{"missing value", http.MethodPut, "/sessions/" + activeID + "/answers/1", `{}`, http.StatusBadRequest},
		{"navigate out of range", http.MethodPost, "/sessions/" + activeID + "/navigate", `{"index":3}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ts.do(tt.method, tt.path, tt.body)
			if status != tt.want {
				t.Errorf("status = %d, want %d (%v)", status, tt.want, body)
			}
		})
	}
}

func TestInvalidPhaseMessage(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	id := ts.create()

	_, body := ts.do(http.MethodPost, "/sessions/"+id+"/submit", "")
	if body["error"] != "This action is not available while the session is in the setup phase." {
		t.Errorf("error = %v", body["error"])
	}
	_, body = ts.do(http.MethodPost, "/sessions/"+id+"/submit", "", "Accept-Language", "ru")
	if !strings.Contains(body["error"].(string), "setup") || !strings.HasPrefix(body["error"].(string), "Это действие") {
		t.Errorf("localized error = %v", body["error"])
	}
}

func TestFallbackNotice(t *testing.T) {
	notes := model.StudyNotes{
		MCQs:       []model.NoteMCQ{{Question: "Powerhouse?", Options: []string{"Mitochondria", "Nucleus", "Ribosome", "Wall"}, Answer: "Mitochondria"}},
		Flashcards: []model.Flashcard{{Question: "ATP", Answer: "Energy currency"}},
	}
	ts := newTestServer(t, "the model wandered off", notes)
	id := ts.started()

	_, state := ts.do(http.MethodGet, "/sessions/"+id, "")
	if state["source"] != "fallback" {
		t.Errorf("source = %v", state["source"])
	}
	notices, _ := state["notices"].([]any)
	if len(notices) != 2 {
		t.Fatalf("notices = %v", notices)
	}
	if !strings.Contains(notices[0].(string), "study notes") {
		t.Errorf("fallback notice = %v", notices[0])
	}
	if notices[1] != "2 questions are unanswered." {
		t.Errorf("unanswered notice = %v", notices[1])
	}
}

func TestGenerationFailure(t *testing.T) {
	ts := newTestServer(t, "not json", model.StudyNotes{})
	id := ts.create()

	status, body := ts.do(http.MethodPost, "/sessions/"+id+"/start", "")
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
	if body["error"] != "Could not build an exam from this resource." {
		t.Errorf("error = %v", body["error"])
	}
	_, state := ts.do(http.MethodGet, "/sessions/"+id, "")
	if state["phase"] != string(model.PhaseSetup) {
		t.Errorf("phase after failure = %v", state["phase"])
	}
	if state["last_error"] == nil {
		t.Error("expected last_error to be reported")
	}
}

func TestGradingFailureKeepsAnswers(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	id := ts.started()
	base := "/sessions/" + id

	ts.do(http.MethodPut, base+"/answers/1", `{"value":"B"}`)
	ts.grader.mu.Lock()
	ts.grader.fail = errors.New("grader unreachable")
	ts.grader.mu.Unlock()

	status, _ := ts.do(http.MethodPost, base+"/submit", "")
	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
	_, state := ts.do(http.MethodGet, base, "")
	if state["phase"] != string(model.PhaseActive) {
		t.Errorf("phase = %v", state["phase"])
	}
	if state["answers"].(map[string]any)["1"] != "B" {
		t.Errorf("answers lost: %v", state["answers"])
	}

	ts.grader.mu.Lock()
	ts.grader.fail = nil
	ts.grader.mu.Unlock()
	status, state = ts.do(http.MethodPost, base+"/submit", "")
	if status != http.StatusOK || state["phase"] != string(model.PhaseResults) {
		t.Errorf("retry status = %d phase = %v", status, state["phase"])
	}
}

func TestExpiryAutoSubmits(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	id := ts.started()

	ts.do(http.MethodPut, "/sessions/"+id+"/answers/2", `{"value":"true"}`)
	ts.clock.Advance(60)

	_, state := ts.do(http.MethodGet, "/sessions/"+id, "")
	if state["phase"] != string(model.PhaseResults) {
		t.Fatalf("phase = %v", state["phase"])
	}
	if state["remaining_seconds"].(float64) != 0 {
		t.Errorf("remaining = %v", state["remaining_seconds"])
	}
	if state["result"].(map[string]any)["score"].(float64) != 5 {
		t.Errorf("result = %v", state["result"])
	}
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t, examJSON, model.StudyNotes{})
	id := ts.started()

	status, _ := ts.do(http.MethodDelete, "/sessions/"+id, "")
	if status != http.StatusNoContent {
		t.Fatalf("delete status = %d", status)
	}
	if ts.clock.Live() != 0 {
		t.Errorf("clock still running after delete")
	}
	status, _ = ts.do(http.MethodGet, "/sessions/"+id, "")
	if status != http.StatusNotFound {
		t.Errorf("get after delete status = %d", status)
	}
}
