package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func decodeErrorResponse(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error
}

func serve(t *testing.T, authHeader string) (*httptest.ResponseRecorder, string, bool) {
	t.Helper()
	var learnerID string
	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		learnerID = LearnerIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/lessons/x/gates", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	NewAuthenticator(testSecret).Middleware(next).ServeHTTP(rec, req)
	return rec, learnerID, nextCalled
}

func TestMiddleware_Rejections(t *testing.T) {
	refreshLike, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		LearnerID: testLearnerID,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	badLearner, _ := GenerateAccessToken(testSecret, "not-a-uuid", time.Hour)

	tests := []struct {
		name    string
		header  string
		wantMsg string
	}{
		{"missing header", "", "authorization header required"},
		{"basic scheme", "Basic dXNlcjpwYXNz", "invalid authorization header format"},
		{"garbage token", "Bearer invalid-token-string", "invalid token"},
		{"wrong token type", "Bearer " + refreshLike, "invalid token type"},
		{"learner id not a uuid", "Bearer " + badLearner, "invalid learner id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, nextCalled := serve(t, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
			}
			if msg := decodeErrorResponse(t, rec); msg != tt.wantMsg {
				t.Errorf("expected error %q, got %q", tt.wantMsg, msg)
			}
			if nextCalled {
				t.Error("next handler should not have been called")
			}
		})
	}
}

func TestMiddleware_ValidAccessToken(t *testing.T) {
	token, _ := GenerateAccessToken(testSecret, testLearnerID, time.Hour)
	rec, learnerID, nextCalled := serve(t, "Bearer "+token)

	if rec.Code != http.StatusOK || !nextCalled {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if learnerID != testLearnerID {
		t.Errorf("expected learner %q in context, got %q", testLearnerID, learnerID)
	}
}

func TestLearnerIDFromContext(t *testing.T) {
	if got := LearnerIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	ctx := WithLearnerID(context.Background(), testLearnerID)
	if got := LearnerIDFromContext(ctx); got != testLearnerID {
		t.Errorf("expected %q, got %q", testLearnerID, got)
	}
}
