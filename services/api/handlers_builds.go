package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"forged/pkg/stream"
	"forged/services/builds"
	"forged/services/logrelay"
	"forged/services/scheduler"
)

func (a *API) handleTriggerBuild(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID    uuid.UUID `json:"project_id"`
		Ref          string    `json:"ref"`
		Hash         string    `json:"hash"`
		AllowRebuild bool      `json:"allow_rebuild"`
		LocalConfig  bool      `json:"local_config"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ProjectID == uuid.Nil {
		respondError(w, http.StatusBadRequest, errors.New("project_id is required"))
		return
	}
	if req.Ref == "" {
		respondError(w, http.StatusBadRequest, errors.New("ref is required"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	project, err := a.records.Project(ctx, req.ProjectID)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	hash := req.Hash
	if hash == "" {
		hash, err = a.store.Provider.ResolveRef(ctx, project.RepoFull, req.Ref)
		if err != nil {
			respondError(w, http.StatusBadGateway, err)
			return
		}
	}

	build, err := a.sched.Schedule(r.Context(), scheduler.Request{
		Project:      project,
		Ref:          req.Ref,
		Hash:         hash,
		AllowRebuild: req.AllowRebuild,
		LocalConfig:  req.LocalConfig,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.enforceQuota(r.Context(), project.OwnerID)

	respondJSON(w, http.StatusCreated, map[string]any{"build": build})
}

func (a *API) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	build, err := a.records.Get(ctx, id)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"build": build})
}

func (a *API) handleGetBuildLog(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if a.store.Stream == nil {
		respondError(w, http.StatusServiceUnavailable, errors.New("log store not configured"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	raw, err := a.store.Stream.Range(ctx, stream.BuildOutputKey(id), 0, -1)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	records := make([]json.RawMessage, 0, len(raw))
	for _, rec := range raw {
		records = append(records, json.RawMessage(rec))
	}

	respondJSON(w, http.StatusOK, map[string]any{"build_id": id, "records": records})
}

func (a *API) handleKillBuild(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status  *int   `json:"status"`
		Message string `json:"message"`
	}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	build, err := a.records.Get(ctx, id)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	status := builds.StatusKilled
	if req.Status != nil {
		status = builds.Status(*req.Status)
		if !status.Valid() || !status.IsTerminal() {
			respondError(w, http.StatusBadRequest, errors.New("status must be a terminal status value"))
			return
		}
	}

	if err := a.orders.Kill(r.Context(), build, status, req.Message); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{"build_id": id, "requested": status.String()})
}

func (a *API) handleStopBuild(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	build, err := a.records.Get(ctx, id)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if err := a.orders.Stop(r.Context(), build); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{"build_id": id, "requested": "stop"})
}

// handleGetBuildLogArchive hands out a presigned URL for the archived log of
// a finished build. Only available when archival is configured.
func (a *API) handleGetBuildLogArchive(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if a.store.Blobs == nil || a.config.ArchiveBucket == "" {
		respondError(w, http.StatusNotFound, errors.New("log archival is not configured"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	build, err := a.records.Get(ctx, id)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !build.Status.IsTerminal() {
		respondError(w, http.StatusConflict, errors.New("build has not finished"))
		return
	}

	url, err := a.store.Blobs.PresignGet(ctx, a.config.ArchiveBucket, logrelay.ArchiveKey(id), 15*time.Minute)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"build_id": id, "url": url})
}

func buildIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid build id")
	}
	return id, nil
}
