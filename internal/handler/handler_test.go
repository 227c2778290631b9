package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/examhall/examhall/internal/auth"
	"github.com/examhall/examhall/internal/evaluator"
	"github.com/examhall/examhall/internal/exams"
	appI18n "github.com/examhall/examhall/internal/i18n"
	"github.com/examhall/examhall/internal/metrics"
	"github.com/examhall/examhall/internal/model"
	"github.com/examhall/examhall/internal/store"
)

type testServer struct {
	srv   *httptest.Server
	store *store.Store
	exam  *model.Exam
}

func fp(v float64) *float64 { return &v }

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ctx := context.Background()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	users := []struct {
		name  string
		roles []model.RoleGrant
	}{
		{"root", []model.RoleGrant{{Role: model.UserRoleSuperAdmin}}},
		{"principal", []model.RoleGrant{{Role: model.UserRoleInstituteAdmin, InstituteID: "inst-1"}}},
		{"teacher", []model.RoleGrant{{Role: model.UserRoleTeacher, InstituteID: "inst-1"}}},
		{"meera", []model.RoleGrant{{Role: model.UserRoleStudent}}},
		{"kabir", []model.RoleGrant{{Role: model.UserRoleStudent}}},
	}
	for _, u := range users {
		hash, err := auth.HashPassword(u.name + "-pw")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := st.CreateUser(ctx, model.User{Username: u.name, PasswordHash: hash, Active: true}, u.roles); err != nil {
			t.Fatalf("CreateUser(%s): %v", u.name, err)
		}
	}

	exam := &model.Exam{InstituteID: "inst-1", Title: "Biology", DurationMinutes: 45, NegativeMarking: true, PassingMarks: fp(2)}
	if err := st.UpsertExam(ctx, exam); err != nil {
		t.Fatalf("UpsertExam: %v", err)
	}
	for _, q := range []model.Question{
		{ID: "b1", ExamID: exam.ID, Type: model.QuestionSingleCorrect, CorrectAnswer: model.Single("A"), Marks: fp(2), NegativeMarks: fp(0.5), OrderIndex: 1},
		{ID: "b2", ExamID: exam.ID, Type: model.QuestionTrueFalse, CorrectAnswer: model.Single("true"), Marks: fp(2), NegativeMarks: fp(0.5), OrderIndex: 2},
	} {
		if err := st.UpsertQuestion(ctx, &q); err != nil {
			t.Fatalf("UpsertQuestion: %v", err)
		}
	}

	m := metrics.New(prometheus.NewRegistry())
	ev := evaluator.New(st, evaluator.WithMetrics(m))
	au, err := auth.New(st, "handler-test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.New: %v", err)
	}
	h := New(st, ev, exams.New(st, ev), au, m, cfg)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: st, exam: exam}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any, header ...string) (int, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	return ts.send(t, req)
}

func (ts *testServer) send(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp.StatusCode, out
}

func (ts *testServer) login(t *testing.T, username string) string {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": username, "password": username + "-pw"})
	if code != http.StatusOK {
		t.Fatalf("login %s: %d %v", username, code, body)
	}
	return body["access_token"].(string)
}

func wantStatus(t *testing.T, got, want int, body map[string]any) {
	t.Helper()
	if got != want {
		t.Fatalf("status = %d, want %d (body %v)", got, want, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t, Config{})
	code, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, code, http.StatusOK, body)

	ts.login(t, "meera")
	resp, err := http.Get(ts.srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), `http_requests_total{endpoint="/api/auth/login",method="POST",status="200"} 1`) {
		t.Errorf("metrics output missing login counter:\n%s", data)
	}
}

func TestLogin(t *testing.T) {
	ts := newTestServer(t, Config{})

	tests := []struct {
		name     string
		body     any
		lang     string
		wantCode int
		wantMsg  string
	}{
		{"ok", map[string]string{"username": "meera", "password": "meera-pw"}, "", http.StatusOK, ""},
		{"wrong password", map[string]string{"username": "meera", "password": "x"}, "", http.StatusUnauthorized, "Invalid username or password."},
		{"hindi", map[string]string{"username": "meera", "password": "x"}, "hi", http.StatusUnauthorized, "अमान्य उपयोगकर्ता नाम या पासवर्ड।"},
		{"missing fields", map[string]string{"username": "meera"}, "", http.StatusBadRequest, "The request is invalid."},
		{"not json", "plain", "", http.StatusBadRequest, "The request is invalid."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/api/auth/login", "", tt.body, "Accept-Language", tt.lang)
			wantStatus(t, code, tt.wantCode, body)
			if tt.wantMsg != "" && body["error"] != tt.wantMsg {
				t.Errorf("error = %v, want %q", body["error"], tt.wantMsg)
			}
		})
	}
}

func TestRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t, Config{})
	code, body := ts.do(t, http.MethodPost, "/api/evaluate", "", map[string]string{"sessionId": "x"})
	wantStatus(t, code, http.StatusUnauthorized, body)
	if body["kind"] != "unauthorized" {
		t.Errorf("kind = %v", body["kind"])
	}

	tok := ts.login(t, "meera")
	code, _ = ts.do(t, http.MethodPost, "/api/auth/logout", tok, nil)
	wantStatus(t, code, http.StatusNoContent, nil)
	code, body = ts.do(t, http.MethodPost, "/api/evaluate", tok, map[string]string{"sessionId": "x"})
	wantStatus(t, code, http.StatusUnauthorized, body)
}

func TestExamFlow(t *testing.T) {
	ts := newTestServer(t, Config{})
	student := ts.login(t, "meera")
	teacher := ts.login(t, "teacher")
	examPath := "/api/exams/" + ts.exam.ID

	code, body := ts.do(t, http.MethodPost, examPath+"/sessions", student, nil)
	wantStatus(t, code, http.StatusCreated, body)
	sid := body["id"].(string)
	sessPath := "/api/sessions/" + sid

	code, body = ts.do(t, http.MethodPut, sessPath+"/responses/b1", student, map[string]any{"selected_answer": "A", "time_spent_seconds": 12})
	wantStatus(t, code, http.StatusNoContent, body)
	code, body = ts.do(t, http.MethodPut, sessPath+"/responses/b2", student, map[string]any{"selected_answer": "false"})
	wantStatus(t, code, http.StatusNoContent, body)
	code, body = ts.do(t, http.MethodPut, sessPath+"/responses/b2", student, map[string]any{"selected_answer": map[string]int{"x": 1}})
	wantStatus(t, code, http.StatusBadRequest, body)

	code, body = ts.do(t, http.MethodPost, sessPath+"/submit", student, nil)
	wantStatus(t, code, http.StatusOK, body)
	summary := body["summary"].(map[string]any)
	if summary["marksObtained"] != 1.5 || summary["correct"] != 1.0 || summary["wrong"] != 1.0 {
		t.Errorf("summary = %v", summary)
	}
	if body["verdict"] != "Not passed" || body["message"] != "1.5 of 4 marks" {
		t.Errorf("verdict = %v, message = %v", body["verdict"], body["message"])
	}

	code, body = ts.do(t, http.MethodPost, sessPath+"/submit", student, nil)
	wantStatus(t, code, http.StatusConflict, body)

	code, body = ts.do(t, http.MethodGet, sessPath+"/result", student, nil)
	wantStatus(t, code, http.StatusNotFound, body)
	code, body = ts.do(t, http.MethodGet, sessPath+"/result", teacher, nil)
	wantStatus(t, code, http.StatusOK, body)

	code, body = ts.do(t, http.MethodPost, examPath+"/rankings", student, nil)
	wantStatus(t, code, http.StatusForbidden, body)
	code, body = ts.do(t, http.MethodPost, examPath+"/rankings", teacher, map[string]bool{"publish": true})
	wantStatus(t, code, http.StatusOK, body)
	if st := body["standings"].([]any); len(st) != 1 {
		t.Errorf("standings = %v", st)
	}

	code, body = ts.do(t, http.MethodGet, sessPath+"/result", student, nil)
	wantStatus(t, code, http.StatusOK, body)
	if body["rank"] != 1.0 || body["percentile"] != 100.0 || body["is_published"] != true {
		t.Errorf("result = %v", body)
	}

	// b2 answer key correction flips the wrong answer to correct.
	code, body = ts.do(t, http.MethodPut, examPath+"/answer-key", teacher, map[string]any{"answers": map[string]any{"b2": "false"}})
	wantStatus(t, code, http.StatusCreated, body)
	if body["version"] != 1.0 {
		t.Errorf("key version = %v", body["version"])
	}
	code, body = ts.do(t, http.MethodPost, examPath+"/reevaluate", teacher, nil)
	wantStatus(t, code, http.StatusOK, body)
	if body["evaluated"] != 1.0 || body["reranked"] != true || body["message"] != "1 session re-evaluated." {
		t.Errorf("reevaluate = %v", body)
	}

	code, body = ts.do(t, http.MethodPost, "/api/evaluate", student, map[string]string{"sessionId": sid})
	wantStatus(t, code, http.StatusOK, body)
	summary = body["summary"].(map[string]any)
	if summary["marksObtained"] != 4.0 || body["verdict"] != "Passed" {
		t.Errorf("after correction = %v", body)
	}
	result := body["result"].(map[string]any)
	if result["rank"] != 1.0 {
		t.Errorf("rank lost on re-evaluation: %v", result["rank"])
	}
}

func TestEvaluateErrors(t *testing.T) {
	ts := newTestServer(t, Config{})
	meera := ts.login(t, "meera")
	kabir := ts.login(t, "kabir")

	code, body := ts.do(t, http.MethodPost, "/api/exams/"+ts.exam.ID+"/sessions", meera, nil)
	wantStatus(t, code, http.StatusCreated, body)
	sid := body["id"].(string)

	tests := []struct {
		name     string
		token    string
		path     string
		body     any
		wantCode int
		wantKind string
	}{
		{"malformed id", meera, "/api/evaluate", map[string]string{"sessionId": "not-a-uuid"}, http.StatusBadRequest, "invalid_request"},
		{"empty id", meera, "/api/evaluate", map[string]string{}, http.StatusBadRequest, "invalid_request"},
		{"unknown session", meera, "/api/sessions/0b7e1c1e-8c0d-4d8e-9a7b-3f8e5d2c1a00/evaluate", nil, http.StatusNotFound, "not_found"},
		{"other student", kabir, "/api/sessions/" + sid + "/evaluate", nil, http.StatusForbidden, "forbidden"},
		{"other student submit", kabir, "/api/sessions/" + sid + "/submit", nil, http.StatusForbidden, "forbidden"},
		{"student terminate", meera, "/api/sessions/" + sid + "/terminate", nil, http.StatusForbidden, "forbidden"},
		{"unknown exam", meera, "/api/exams/nope/sessions", nil, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			wantStatus(t, code, tt.wantCode, body)
			if body["kind"] != tt.wantKind {
				t.Errorf("kind = %v, want %s", body["kind"], tt.wantKind)
			}
			if msg, _ := body["error"].(string); msg == "" {
				t.Error("missing localized error message")
			}
		})
	}
}

func TestTerminateByStaff(t *testing.T) {
	ts := newTestServer(t, Config{})
	meera := ts.login(t, "meera")
	teacher := ts.login(t, "teacher")

	_, body := ts.do(t, http.MethodPost, "/api/exams/"+ts.exam.ID+"/sessions", meera, nil)
	sid := body["id"].(string)
	code, body := ts.do(t, http.MethodPost, "/api/sessions/"+sid+"/terminate", teacher, nil)
	wantStatus(t, code, http.StatusOK, body)

	sess, _ := ts.store.GetSession(context.Background(), sid)
	if sess.Status != model.StatusTerminated || sess.EndTime == nil {
		t.Errorf("session = %+v", sess)
	}
}

func TestAdminCreateUser(t *testing.T) {
	ts := newTestServer(t, Config{})
	root := ts.login(t, "root")
	principal := ts.login(t, "principal")
	teacher := ts.login(t, "teacher")

	newUser := func(name string, g model.RoleGrant) map[string]any {
		return map[string]any{"username": name, "password": "pw", "roles": []model.RoleGrant{g}}
	}
	tests := []struct {
		name     string
		token    string
		body     any
		wantCode int
	}{
		{"teacher cannot", teacher, newUser("x1", model.RoleGrant{Role: model.UserRoleStudent, InstituteID: "inst-1"}), http.StatusForbidden},
		{"principal in own institute", principal, newUser("x2", model.RoleGrant{Role: model.UserRoleTeacher, InstituteID: "inst-1"}), http.StatusCreated},
		{"principal elsewhere", principal, newUser("x3", model.RoleGrant{Role: model.UserRoleTeacher, InstituteID: "inst-2"}), http.StatusForbidden},
		{"principal cannot make admins", principal, newUser("x4", model.RoleGrant{Role: model.UserRoleInstituteAdmin, InstituteID: "inst-1"}), http.StatusForbidden},
		{"root anything", root, newUser("x5", model.RoleGrant{Role: model.UserRoleSuperAdmin}), http.StatusCreated},
		{"duplicate", root, newUser("meera", model.RoleGrant{Role: model.UserRoleStudent}), http.StatusConflict},
		{"unknown role", root, newUser("x6", model.RoleGrant{Role: "janitor"}), http.StatusBadRequest},
		{"no roles", root, map[string]any{"username": "x7", "password": "pw"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := ts.do(t, http.MethodPost, "/api/admin/users", tt.token, tt.body)
			wantStatus(t, code, tt.wantCode, body)
		})
	}

	// The new teacher can log in.
	code, body := ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "x2", "password": "pw"})
	wantStatus(t, code, http.StatusOK, body)
}

func TestAdminSetUserActive(t *testing.T) {
	ts := newTestServer(t, Config{})
	root := ts.login(t, "root")
	principal := ts.login(t, "principal")
	kabir, err := ts.store.GetUserByUsername(context.Background(), "kabir")
	if err != nil || kabir == nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	path := "/api/admin/users/" + kabir.ID + "/active"

	code, body := ts.do(t, http.MethodPut, path, principal, map[string]bool{"active": false})
	wantStatus(t, code, http.StatusForbidden, body)
	code, body = ts.do(t, http.MethodPut, "/api/admin/users/missing/active", root, map[string]bool{"active": false})
	wantStatus(t, code, http.StatusNotFound, body)
	code, body = ts.do(t, http.MethodPut, path, root, map[string]bool{"active": false})
	wantStatus(t, code, http.StatusNoContent, body)

	code, body = ts.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "kabir", "password": "kabir-pw"})
	wantStatus(t, code, http.StatusUnauthorized, body)
}

func TestAdminImport(t *testing.T) {
	ts := newTestServer(t, Config{})
	root := ts.login(t, "root")
	principal := ts.login(t, "principal")

	data, err := os.ReadFile("../importer/testdata/physics_mock.json")
	if err != nil {
		t.Fatal(err)
	}
	upload := func(token string) (int, map[string]any) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("bundle", "physics_mock.json")
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(data)
		mw.Close()
		req, _ := http.NewRequest(http.MethodPost, ts.srv.URL+"/api/admin/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		return ts.send(t, req)
	}

	// The bundle creates student accounts without an institute scope.
	code, body := upload(principal)
	wantStatus(t, code, http.StatusForbidden, body)

	code, body = upload(root)
	wantStatus(t, code, http.StatusOK, body)
	if body["exam_id"] != "phys-mock-1" || body["sessions"] != 2.0 || body["evaluated"] != 1.0 {
		t.Errorf("import = %v", body)
	}

	code, body = upload(root)
	wantStatus(t, code, http.StatusOK, body)
	if body["skipped"] != true {
		t.Errorf("second import = %v", body)
	}
}

func TestRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{RateLimit: 2, RateWindow: time.Hour})
	creds := map[string]string{"username": "meera", "password": "wrong"}
	for i := 0; i < 2; i++ {
		code, body := ts.do(t, http.MethodPost, "/api/auth/login", "", creds)
		wantStatus(t, code, http.StatusUnauthorized, body)
	}
	code, body := ts.do(t, http.MethodPost, "/api/auth/login", "", creds)
	wantStatus(t, code, http.StatusTooManyRequests, body)
	if body["error"] != "Too many requests. Please slow down." {
		t.Errorf("error = %v", body["error"])
	}

	// Health checks are outside the API limiter.
	code, _ = ts.do(t, http.MethodGet, "/healthz", "", nil)
	wantStatus(t, code, http.StatusOK, nil)
}

func TestRateLimitForwardedFor(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		wantLast   int
	}{
		{"header ignored without trusted proxy", false, http.StatusTooManyRequests},
		{"header honoured behind trusted proxy", true, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, Config{RateLimit: 1, RateWindow: time.Hour, TrustProxy: tt.trustProxy})
			creds := map[string]string{"username": "meera", "password": "wrong"}
			var code int
			var body map[string]any
			for _, ip := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
				code, body = ts.do(t, http.MethodPost, "/api/auth/login", "", creds, "X-Forwarded-For", ip)
			}
			wantStatus(t, code, tt.wantLast, body)
		})
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	rl := newRateLimiter(1, time.Second)
	now := time.Now()
	rl.now = func() time.Time { return now }

	if !rl.allow("a") || rl.allow("a") {
		t.Fatal("expected one request then a rejection")
	}
	now = now.Add(2 * time.Minute)
	rl.allow("b")
	if _, ok := rl.visitors["a"]; ok {
		t.Error("idle visitor was not dropped")
	}
}
