package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mailcoach-ai/mailcoach/internal/billing"
	"github.com/mailcoach-ai/mailcoach/internal/db"
	"github.com/mailcoach-ai/mailcoach/internal/quota"
	"github.com/mailcoach-ai/mailcoach/internal/store"
	"github.com/mailcoach-ai/mailcoach/internal/usage"
)

const testAdminToken = "admin-secret"

func newAdminRouter(t *testing.T) (*gin.Engine, *quota.Engine, *store.GormAccountStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "admin-test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}

	accounts := store.NewGormAccountStore(conn)
	engine := quota.NewEngine(accounts, nil, 0)
	r := gin.New()
	RegisterAdminRoutes(r, Deps{
		Accounts:   accounts,
		Engine:     engine,
		Reconciler: billing.NewReconciler(nil, accounts, engine, nil),
		Recorder:   usage.NewRecorder(conn),
		AdminToken: testAdminToken,
	})
	return r, engine, accounts
}

func adminRequest(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	r, _, _ := newAdminRouter(t)
	if w := adminRequest(r, http.MethodGet, "/v0/admin/accounts", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := adminRequest(r, http.MethodGet, "/v0/admin/accounts", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := adminRequest(r, http.MethodGet, "/v0/admin/accounts", testAdminToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterAdminRoutes(r, Deps{Accounts: store.NewGormAccountStore(nil)})
	if w := adminRequest(r, http.MethodGet, "/v0/admin/accounts", "anything"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestAdminAccounts(t *testing.T) {
	r, engine, accounts := newAdminRouter(t)
	ctx := context.Background()
	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		if _, err := engine.GetOrCreateAccount(ctx, email, ""); err != nil {
			t.Fatalf("create %s: %v", email, err)
		}
	}
	account, _ := accounts.Get(ctx, "alice@example.com")
	if err := engine.ConsumeCredit(ctx, account); err != nil {
		t.Fatalf("consume: %v", err)
	}

	w := adminRequest(r, http.MethodGet, "/v0/admin/accounts?email=ALI", testAdminToken)
	var list struct {
		Accounts []map[string]any `json:"accounts"`
		Total    int64            `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if list.Total != 1 || len(list.Accounts) != 1 || list.Accounts[0]["email"] != "alice@example.com" {
		t.Fatalf("unexpected list %+v", list)
	}

	if w = adminRequest(r, http.MethodGet, "/v0/admin/accounts/nobody@example.com", testAdminToken); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = adminRequest(r, http.MethodPost, "/v0/admin/accounts/alice@example.com/reset-credits", testAdminToken)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	reset, _ := accounts.Get(ctx, "alice@example.com")
	if reset.CreditsUsed != 0 {
		t.Fatalf("expected credits reset, got %d", reset.CreditsUsed)
	}

	if w = adminRequest(r, http.MethodPost, "/v0/admin/accounts/alice@example.com/reconcile", testAdminToken); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without billing provider, got %d", w.Code)
	}

	if w = adminRequest(r, http.MethodGet, "/v0/admin/accounts/alice@example.com/emails", testAdminToken); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
