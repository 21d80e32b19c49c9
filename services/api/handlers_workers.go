package api

import (
	"errors"
	"fmt"
	"net/http"

	"forged/pkg/stream"
	"forged/services/builds"
)

// Worker callbacks. The remote worker reports pickup and completion here;
// these are the only paths that move a build through BUILDING/RUNNING and the
// worker-owned terminal states.

func (a *API) handleBuildStarted(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status      *int   `json:"status"`
		ProcessID   int    `json:"process_id"`
		ContainerID string `json:"container_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	status := builds.StatusBuilding
	if req.Status != nil {
		status = builds.Status(*req.Status)
		if !status.IsActive() {
			respondError(w, http.StatusBadRequest, errors.New("status must be building or running"))
			return
		}
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	if err := a.records.SetWorkerState(ctx, id, status, req.ProcessID, req.ContainerID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"build_id": id, "status": status.String()})
}

func (a *API) handleBuildFinished(w http.ResponseWriter, r *http.Request) {
	id, err := buildIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	var req struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	status := builds.Status(req.Status)
	if !status.Valid() || !status.IsTerminal() {
		respondError(w, http.StatusBadRequest, errors.New("status must be a terminal status value"))
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

	// A late report from a worker that lost the race must not rewrite a
	// build the reaper or a newer schedule already finalized.
	if build.Status.IsTerminal() {
		respondError(w, http.StatusConflict, fmt.Errorf("build %d is already %s", id, build.Status))
		return
	}

	if err := a.records.SetTerminal(ctx, id, status, req.Message); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	if a.archive != nil {
		if err := a.archive.Archive(r.Context(), id); err != nil {
			a.logger.Printf("WARN archive log for build %d: %v", id, err)
		}
	}

	if err := stream.Notify(r.Context(), a.store.Stream, stream.ProjectChannel(build.ProjectID), "build_finished", map[string]any{
		"build_id": id,
		"status":   status.String(),
	}); err != nil {
		a.logger.Printf("WARN publish build_finished for build %d: %v", id, err)
	}

	respondJSON(w, http.StatusOK, map[string]any{"build_id": id, "status": status.String()})
}
