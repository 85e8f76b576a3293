package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes constructs the HTTP router with all service endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger))
	r.Use(CORSMiddleware(a.Config.CORS))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/health", a.handleHealth)

	r.Route("/api/v1/whoop", func(r chi.Router) {
		if a.Config.Server.DevMode {
			r.Get("/connected-users", a.handleConnectedUsers)
		}

		r.Post("/auth-url", a.handleAuthURL)
		r.Get("/callback", a.handleCallbackRedirect)
		r.Post("/callback", a.handleCallbackManual)
		r.Get("/status/{userID}", a.handleStatus)
		r.Delete("/disconnect/{userID}", a.handleDisconnect)

		r.Get("/data/{userID}", a.handleData)
		r.Get("/recovery/{userID}", a.resourceHandler(PathRecovery))
		r.Get("/sleep/{userID}", a.resourceHandler(PathSleep))
		r.Get("/workout/{userID}", a.resourceHandler(PathWorkout))
		r.Get("/cycle/{userID}", a.resourceHandler(PathCycle))
		r.Get("/profile/{userID}", a.objectHandler(PathProfile))
		r.Get("/body/{userID}", a.objectHandler(PathBody))
	})

	return r
}
