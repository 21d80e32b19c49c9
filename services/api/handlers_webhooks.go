package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"forged/services/builds"
	"forged/services/scheduler"
	"forged/services/webhooks"
)

const maxWebhookBody = 1 << 20

func (a *API) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := webhooks.ParseGitHubEvent(event, body)
	if errors.Is(err, webhooks.ErrUnsupportedEvent) {
		respondJSON(w, http.StatusOK, map[string]any{"scheduled": false, "reason": "ignored_event"})
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if payload.RepoFull == "" {
		respondError(w, http.StatusBadRequest, errors.New("payload carries no repository"))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	project, err := a.records.ProjectByRepo(ctx, payload.RepoFull)
	if errors.Is(err, builds.ErrNotFound) {
		respondError(w, http.StatusNotFound, errors.New("no project for repository "+payload.RepoFull))
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	decision, err := a.eval.Evaluate(ctx, payload, project)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	if !decision.Proceed {
		status := http.StatusOK
		if decision.Reason == webhooks.ReasonDuplicate {
			status = http.StatusConflict
		}
		respondJSON(w, status, map[string]any{"scheduled": false, "reason": decision.Reason})
		return
	}

	var rawPayload map[string]any
	if err := decodeRaw(body, &rawPayload); err != nil {
		rawPayload = nil
	}

	build, err := a.sched.Schedule(r.Context(), scheduler.Request{
		Project: project,
		Ref:     decision.Ref,
		Hash:    decision.Hash,
		Payload: rawPayload,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	a.enforceQuota(r.Context(), project.OwnerID)

	respondJSON(w, http.StatusCreated, map[string]any{"scheduled": true, "build": build})
}

// enforceQuota runs admission control for the project owner after a schedule.
// Failures are logged; the new build is already dispatched either way.
func (a *API) enforceQuota(ctx context.Context, ownerID uuid.UUID) {
	if ownerID == uuid.Nil {
		return
	}
	if err := a.quotas.Enforce(ctx, ownerID); err != nil {
		a.logger.Printf("WARN quota enforcement for user %s: %v", ownerID, err)
	}
}

func decodeRaw(body []byte, dest *map[string]any) error {
	return json.Unmarshal(body, dest)
}
