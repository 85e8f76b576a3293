package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

const serviceName = "whoopd"

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config Config
	Logger *slog.Logger
	Store  Store
	Whoop  *WhoopClient
	Tokens *TokenManager
	Relay  *Relay
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) *App {
	store := NewInMemoryStore()
	whoop := NewWhoopClient(cfg.Whoop, logger)
	tokens := NewTokenManager(store, whoop, logger)
	relay := NewRelay(tokens, whoop, logger)

	return &App{
		Config: cfg,
		Logger: logger,
		Store:  store,
		Whoop:  whoop,
		Tokens: tokens,
		Relay:  relay,
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Service:        serviceName,
		ConnectedUsers: a.Store.CredentialCount(),
	})
}

// handleConnectedUsers lists connected user IDs. Dev mode only.
func (a *App) handleConnectedUsers(w http.ResponseWriter, r *http.Request) {
	ids := a.Store.UserIDs()
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(ids),
		"user_ids": ids,
	})
}

func (a *App) handleAuthURL(w http.ResponseWriter, r *http.Request) {
	var req AuthURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	resp, err := a.Tokens.BeginAuthorization(req.UserID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "whoop client_id not configured")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleCallbackRedirect is the browser-facing OAuth callback. Whatever the
// outcome, the response is a redirect to the mobile app deep link.
func (a *App) handleCallbackRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}

	userID, whoopUserID, err := a.Tokens.CompleteAuthorization(r.Context(), code, state)
	if err != nil {
		a.appRedirect(w, r, url.Values{
			"success": {"false"},
			"error":   {callbackErrorCode(err)},
		})
		return
	}

	a.appRedirect(w, r, url.Values{
		"success":       {"true"},
		"user_id":       {userID},
		"whoop_user_id": {whoopUserID},
	})
}

// handleCallbackManual lets the app POST code+state itself when it handles
// the deep link parsing.
func (a *App) handleCallbackManual(w http.ResponseWriter, r *http.Request) {
	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Code == "" || req.State == "" {
		writeError(w, http.StatusBadRequest, "code and state are required")
		return
	}

	_, whoopUserID, err := a.Tokens.CompleteAuthorization(r.Context(), req.Code, req.State)
	if err != nil {
		writeJSON(w, http.StatusOK, CallbackResponse{
			Success: false,
			Error:   callbackErrorCode(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, CallbackResponse{
		Success:     true,
		WhoopUserID: whoopUserID,
		ConnectedAt: time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	writeJSON(w, http.StatusOK, a.Tokens.Status(userID))
}

func (a *App) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !a.Tokens.Disconnect(userID) {
		writeError(w, http.StatusNotFound, "user not connected")
		return
	}
	writeJSON(w, http.StatusOK, DisconnectResponse{Success: true})
}

func (a *App) handleData(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	q := r.URL.Query()

	window, err := buildWindow(q, time.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	types := AllDataTypes
	if raw := q.Get("types"); raw != "" {
		types = strings.Split(raw, ",")
	}

	resp, err := a.Relay.FetchAll(r.Context(), userID, types, window)
	if err != nil {
		a.relayError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// resourceHandler relays an individual collection endpoint.
func (a *App) resourceHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")
		q := r.URL.Query()

		window, err := buildWindow(q, time.Now())
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		window.Set("limit", strconv.Itoa(recordLimit(q)))

		doc, err := a.Relay.FetchResource(r.Context(), userID, path, window)
		if err != nil {
			a.relayError(w, err)
			return
		}

		writeRaw(w, doc)
	}
}

// objectHandler relays a single-object endpoint (profile, body measurement).
func (a *App) objectHandler(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		doc, err := a.Relay.FetchResource(r.Context(), userID, path, nil)
		if err != nil {
			a.relayError(w, err)
			return
		}

		writeRaw(w, doc)
	}
}

func (a *App) relayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "user not connected or token expired, please reconnect")
	case errors.Is(err, ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, "whoop client not configured")
	default:
		writeError(w, http.StatusBadGateway, "upstream request failed")
	}
}

func (a *App) appRedirect(w http.ResponseWriter, r *http.Request, params url.Values) {
	target := a.Config.App.RedirectURI + "?" + params.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// buildWindow translates the caller's date parameters into the UTC
// start/end query the upstream expects. Explicit start/end pass through
// untouched; a date+tz pair becomes a local-day window; otherwise the
// default is the last N days.
func buildWindow(q url.Values, now time.Time) (url.Values, error) {
	params := url.Values{}

	start, end := q.Get("start"), q.Get("end")
	if start != "" || end != "" {
		if start != "" {
			params.Set("start", start)
		}
		if end != "" {
			params.Set("end", end)
		}
		return params, nil
	}

	if date := q.Get("date"); date != "" {
		win, err := DayWindow(date, q.Get("tz"))
		if err != nil {
			return nil, err
		}
		params.Set("start", win.Start.Format(time.RFC3339))
		params.Set("end", win.End.Format(time.RFC3339))
		return params, nil
	}

	days := DefaultRelayWindowDays
	if v := q.Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, errors.New("days must be a positive integer")
		}
		days = n
	}
	win := LastNDays(days, q.Get("tz"), now)
	params.Set("start", win.Start.Format(time.RFC3339))
	params.Set("end", win.End.Format(time.RFC3339))
	return params, nil
}

func recordLimit(q url.Values) int {
	limit := MaxRecordLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < MaxRecordLimit {
			limit = n
		}
	}
	return limit
}

func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	default:
		return "token_exchange_failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, doc json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
