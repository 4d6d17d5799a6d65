package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/auth"
	"github.com/lessongate/lessongate/internal/server"
	"github.com/pashagolub/pgxmock/v4"
)

const (
	testSecret    = "test-secret"
	testLearnerID = "c8a4e2b0-7f6d-4c3b-a291-0e1d2c3b4a59"
	testLessonID  = "3f1e4c1a-9a55-4c2f-8a0e-7d1b2c3d4e5f"
)

type mockPinger struct{ err error }

func (m *mockPinger) Ping(ctx context.Context) error { return m.err }

func mustNew(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	srv, err := server.New(cfg)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func newServerWithDB(t *testing.T, burst int) (*server.Server, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgxmock pool: %v", err)
	}
	t.Cleanup(func() { mock.Close() })

	srv := mustNew(t, server.Config{
		DB:            mock,
		Pinger:        &mockPinger{},
		JWTSecret:     testSecret,
		BaseURL:       "https://lessons.example.com",
		ProgressRate:  0.1,
		ProgressBurst: burst,
		Clock:         clockwork.NewFakeClock(),
	})
	return srv, mock
}

func bearer(t *testing.T, learnerID string) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(testSecret, learnerID, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + token
}

func execute(srv *server.Server, method, path, body, authorization string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresSecretWithDB(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	if _, err := server.New(server.Config{DB: mock}); !errors.Is(err, server.ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		pinger   *mockPinger
		wantCode int
		wantBody string
	}{
		{"no database", nil, http.StatusOK, `{"status":"ok"}`},
		{"ping ok", &mockPinger{}, http.StatusOK, `{"status":"ok"}`},
		{"ping failed", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable, `{"status":"unhealthy","error":"database unreachable"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := server.Config{}
			if tt.pinger != nil {
				cfg.Pinger = tt.pinger
			}
			rec := execute(mustNew(t, cfg), http.MethodGet, "/api/health", "", "")

			if rec.Code != tt.wantCode {
				t.Errorf("expected status %d, got %d", tt.wantCode, rec.Code)
			}
			if got := strings.TrimSpace(rec.Body.String()); got != tt.wantBody {
				t.Errorf("expected body %q, got %q", tt.wantBody, got)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}
}

func TestLessonRoutesNotRegisteredWithoutDB(t *testing.T) {
	srv := mustNew(t, server.Config{})

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/providers/detect"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/playback"},
		{http.MethodPut, "/api/lessons/" + testLessonID + "/progress"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/gates"},
		{http.MethodPost, "/api/lessons/" + testLessonID + "/complete"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/next"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			if rec := execute(srv, route.method, route.path, "", ""); rec.Code != http.StatusNotFound {
				t.Errorf("expected 404 without DB, got %d", rec.Code)
			}
		})
	}
}

func TestLessonRoutesRequireAuth(t *testing.T) {
	srv, _ := newServerWithDB(t, 5)

	routes := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/providers/detect?url=https://youtu.be/dQw4w9WgXcQ"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/playback"},
		{http.MethodPut, "/api/lessons/" + testLessonID + "/progress"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/gates"},
		{http.MethodPost, "/api/lessons/" + testLessonID + "/complete"},
		{http.MethodGet, "/api/lessons/" + testLessonID + "/next"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			if rec := execute(srv, route.method, route.path, "", ""); rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestDetectWithToken(t *testing.T) {
	srv, _ := newServerWithDB(t, 5)

	rec := execute(srv, http.MethodGet, "/api/providers/detect?url=https://www.loom.com/share/abc123", "", bearer(t, testLearnerID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"provider":"loom"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestInvalidLessonID(t *testing.T) {
	srv, _ := newServerWithDB(t, 5)

	rec := execute(srv, http.MethodGet, "/api/lessons/not-a-uuid/gates", "", bearer(t, testLearnerID))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestProgressIsRateLimitedPerLearner(t *testing.T) {
	srv, mock := newServerWithDB(t, 1)
	path := "/api/lessons/" + testLessonID + "/progress"
	body := `{"watchedPercent":10,"positionMs":1000}`

	mock.ExpectQuery(`SELECT p\.program_id`).WithArgs(testLessonID).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`SELECT p\.program_id`).WithArgs(testLessonID).WillReturnError(pgx.ErrNoRows)

	first := bearer(t, testLearnerID)
	if rec := execute(srv, http.MethodPut, path, body, first); rec.Code != http.StatusNotFound {
		t.Fatalf("first request: expected 404 from handler, got %d", rec.Code)
	}
	if rec := execute(srv, http.MethodPut, path, body, first); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}

	other := bearer(t, "0b6f2d1e-3c4a-4e5f-8a9b-1c2d3e4f5a6b")
	if rec := execute(srv, http.MethodPut, path, body, other); rec.Code != http.StatusNotFound {
		t.Errorf("other learner: expected 404 from handler, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet pgxmock expectations: %v", err)
	}
}

func TestGatesAreNotRateLimited(t *testing.T) {
	srv, mock := newServerWithDB(t, 1)
	path := "/api/lessons/" + testLessonID + "/next"

	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT p\.program_id`).WithArgs(testLessonID).WillReturnError(pgx.ErrNoRows)
	}
	token := bearer(t, testLearnerID)
	for i := 0; i < 3; i++ {
		if rec := execute(srv, http.MethodGet, path, "", token); rec.Code != http.StatusNotFound {
			t.Errorf("request %d: expected 404, got %d", i+1, rec.Code)
		}
	}
}

func TestRunMaintenanceStopsOnCancel(t *testing.T) {
	srv, _ := newServerWithDB(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.RunMaintenance(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunMaintenance did not stop")
	}
}
