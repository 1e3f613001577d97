package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mhmdmarshoud34/Talkify/internal/config"
	"github.com/mhmdmarshoud34/Talkify/internal/db"
	"github.com/mhmdmarshoud34/Talkify/internal/presence"

	"github.com/gin-gonic/gin"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, RefreshTokenTTLDays: 7, UploadDir: t.TempDir()}
	gdb, err := db.Connect("host=localhost user=postgres password=postgres dbname=talkify port=5432 sslmode=disable TimeZone=UTC")
	if err != nil {
		t.Skipf("skip: db not available: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Skipf("skip: migrate failed: %v", err)
	}
	return SetupRouter(cfg, gdb, presence.NewTable())
}

func TestHealthz(t *testing.T) {
	engine := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthedRoutesRejectMissingToken(t *testing.T) {
	engine := setupTestRouter(t)

	for _, path := range []string{"/api/v1/auth/me", "/api/v1/contacts/all", "/api/v1/channels", "/api/v1/messages?peer_id=x"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s without token: status = %d, want 401", path, w.Code)
		}
	}
}
