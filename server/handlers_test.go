package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestApp(t *testing.T, upstream http.Handler) *App {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Whoop.ClientID = "client-id"
	cfg.Whoop.ClientSecret = "client-secret"
	cfg.Whoop.RedirectURI = "http://127.0.0.1/api/v1/whoop/callback"

	if upstream != nil {
		srv := httptest.NewServer(upstream)
		t.Cleanup(srv.Close)
		cfg.Whoop.APIBaseURL = srv.URL
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewApp(cfg, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	app := newTestApp(t, nil)
	app.Store.SaveCredential("u1", Credential{AccessToken: "t"})

	rec := doJSON(t, app.Routes(), http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "healthy" || resp.Service != "whoopd" {
		t.Fatalf("unexpected health payload: %+v", resp)
	}
	if resp.ConnectedUsers != 1 {
		t.Fatalf("expected 1 connected user, got %d", resp.ConnectedUsers)
	}
}

func TestConnectedUsersDevModeOnly(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/connected-users", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("dev mode should expose connected-users, got %d", rec.Code)
	}

	app.Config.Server.DevMode = false
	rec = doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/connected-users", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("production must not expose connected-users, got %d", rec.Code)
	}
}

func TestAuthURLEndpoint(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doJSON(t, app.Routes(), http.MethodPost, "/api/v1/whoop/auth-url", `{"user_id":"u1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}

	var resp AuthURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.State == "" {
		t.Fatalf("missing state")
	}
	parsed, err := url.Parse(resp.AuthorizationURL)
	if err != nil {
		t.Fatalf("bad authorization URL: %v", err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "client-id" || q.Get("response_type") != "code" || q.Get("state") != resp.State {
		t.Fatalf("authorization URL params wrong: %s", resp.AuthorizationURL)
	}
	if !strings.Contains(q.Get("scope"), "read:recovery") {
		t.Fatalf("scope list missing data categories: %q", q.Get("scope"))
	}
}

func TestAuthURLRequiresUserID(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.Routes(), http.MethodPost, "/api/v1/whoop/auth-url", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAuthURLMissingClientID(t *testing.T) {
	app := newTestApp(t, nil)
	app.Config.Whoop.ClientID = ""
	app.Whoop = NewWhoopClient(app.Config.Whoop, app.Logger)
	app.Tokens = NewTokenManager(app.Store, app.Whoop, app.Logger)

	rec := doJSON(t, app.Routes(), http.MethodPost, "/api/v1/whoop/auth-url", `{"user_id":"u1"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when client_id unset, got %d", rec.Code)
	}
}

func TestCallbackRedirectFlow(t *testing.T) {
	stub := &providerStub{
		tokenBody: map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
		},
		profileBody: map[string]any{"user_id": 999},
	}
	app := newTestApp(t, stub)
	router := app.Routes()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/whoop/auth-url", `{"user_id":"u1"}`)
	var authResp AuthURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &authResp); err != nil {
		t.Fatalf("decode auth-url response: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/whoop/callback?code=abc&state="+authResp.State, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	loc, err := url.Parse(rec.Header().Get("Location"))
	if err != nil {
		t.Fatalf("bad redirect location: %v", err)
	}
	if !strings.HasPrefix(loc.String(), app.Config.App.RedirectURI) {
		t.Fatalf("redirect must target the app deep link: %s", loc)
	}
	q := loc.Query()
	if q.Get("success") != "true" || q.Get("user_id") != "u1" || q.Get("whoop_user_id") != "999" {
		t.Fatalf("unexpected deep link params: %v", q)
	}

	cred, ok := app.Store.GetCredential("u1")
	if !ok || cred.AccessToken != "AT1" || cred.RefreshToken != "RT1" {
		t.Fatalf("credential not stored by callback: %+v", cred)
	}
}

func TestCallbackRedirectUnknownState(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/callback?code=x&state=unknown", "")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	loc, _ := url.Parse(rec.Header().Get("Location"))
	q := loc.Query()
	if q.Get("success") != "false" || q.Get("error") != "invalid_state" {
		t.Fatalf("unexpected deep link params: %v", q)
	}
	if app.Store.CredentialCount() != 0 {
		t.Fatalf("invalid state must not create a credential")
	}
}

func TestCallbackManual(t *testing.T) {
	stub := &providerStub{
		tokenBody: map[string]any{
			"access_token":  "AT1",
			"refresh_token": "RT1",
			"expires_in":    3600,
		},
		profileBody: map[string]any{"user_id": 999},
	}
	app := newTestApp(t, stub)
	router := app.Routes()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/whoop/auth-url", `{"user_id":"u1"}`)
	var authResp AuthURLResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &authResp); err != nil {
		t.Fatalf("decode auth-url response: %v", err)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/whoop/callback",
		`{"code":"abc","state":"`+authResp.State+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var resp CallbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode callback response: %v", err)
	}
	if !resp.Success || resp.WhoopUserID != "999" || resp.ConnectedAt == "" {
		t.Fatalf("unexpected callback response: %+v", resp)
	}
}

func TestCallbackManualInvalidState(t *testing.T) {
	app := newTestApp(t, nil)

	rec := doJSON(t, app.Routes(), http.MethodPost, "/api/v1/whoop/callback", `{"code":"x","state":"unknown"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("manual callback reports errors in-body, got status %d", rec.Code)
	}
	var resp CallbackResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode callback response: %v", err)
	}
	if resp.Success || resp.Error != "invalid_state" {
		t.Fatalf("unexpected callback response: %+v", resp)
	}
}

func TestStatusAndDisconnectEndpoints(t *testing.T) {
	app := newTestApp(t, nil)
	router := app.Routes()

	rec := doJSON(t, router, http.MethodGet, "/api/v1/whoop/status/u1", "")
	var st ConnectionStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Connected {
		t.Fatalf("unknown user must not be connected")
	}

	app.Store.SaveCredential("u1", Credential{
		AccessToken:  "AT1",
		ExpiresAt:    time.Now().Add(time.Hour),
		RemoteUserID: "999",
	})

	rec = doJSON(t, router, http.MethodGet, "/api/v1/whoop/status/u1", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.Connected || st.WhoopUserID != "999" {
		t.Fatalf("unexpected status: %+v", st)
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/v1/whoop/disconnect/u1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected disconnect status: %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodDelete, "/api/v1/whoop/disconnect/u1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second disconnect must 404, got %d", rec.Code)
	}
}

func TestDataEndpointRejectsUnconnected(t *testing.T) {
	app := newTestApp(t, nil)
	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/data/ghost", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDataEndpointAggregates(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case PathRecovery:
			if r.URL.Query().Get("start") == "" || r.URL.Query().Get("end") == "" {
				t.Errorf("default window missing: %v", r.URL.Query())
			}
			_, _ = w.Write([]byte(`{"records":[{"cycle_id":"c1"}]}`))
		case PathCycle:
			_, _ = w.Write([]byte(`{"records":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	app := newTestApp(t, upstream)
	app.Store.SaveCredential("u1", Credential{
		AccessToken: "AT1",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/data/u1?types=recovery,cycle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body %s", rec.Code, rec.Body.String())
	}

	var resp DataResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode data response: %v", err)
	}
	if len(resp.Recovery) != 1 {
		t.Fatalf("expected 1 recovery record, got %d", len(resp.Recovery))
	}
	if len(resp.Cycles) != 0 {
		t.Fatalf("expected empty cycles, got %d", len(resp.Cycles))
	}
}

func TestResourceEndpointCapsLimit(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "25" {
			t.Errorf("limit must cap at 25, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"records":[]}`))
	})
	app := newTestApp(t, upstream)
	app.Store.SaveCredential("u1", Credential{
		AccessToken: "AT1",
		ExpiresAt:   time.Now().Add(time.Hour),
	})

	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/recovery/u1?limit=500", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestDataEndpointRejectsBadDays(t *testing.T) {
	app := newTestApp(t, nil)
	app.Store.SaveCredential("u1", Credential{
		AccessToken: "AT1",
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	rec := doJSON(t, app.Routes(), http.MethodGet, "/api/v1/whoop/data/u1?days=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed days, got %d", rec.Code)
	}
}
