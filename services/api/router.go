package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the chi router containing all API endpoints.
func (a *API) Routes() (http.Handler, error) {
	if a == nil {
		return nil, errors.New("nil api")
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/github", a.handleGitHubWebhook)
		r.Post("/builds", a.handleTriggerBuild)
		r.Get("/builds/{id}", a.handleGetBuild)
		r.Get("/builds/{id}/log", a.handleGetBuildLog)
		r.Get("/builds/{id}/log/archive", a.handleGetBuildLogArchive)
		r.Post("/builds/{id}/kill", a.handleKillBuild)
		r.Post("/builds/{id}/stop", a.handleStopBuild)
		r.Post("/builds/{id}/started", a.handleBuildStarted)
		r.Post("/builds/{id}/finished", a.handleBuildFinished)
		r.Get("/users/{id}/quota", a.handleUserQuota)
	})

	return r, nil
}
