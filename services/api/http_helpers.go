package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"forged/pkg/db"
)

// decodeJSON reads a request body into dest. Unknown fields are rejected so
// worker and webhook payload drift surfaces as a 400 instead of being silently
// ignored.
func decodeJSON(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError wraps err into the {"error": ...} envelope the forgectl client
// and workers expect.
func respondError(w http.ResponseWriter, status int, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	respondJSON(w, status, map[string]any{"error": err.Error()})
}

// withTimeout bounds a handler's store calls with the same window the db
// layer applies to its own queries, keeping request latency under one cap.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, db.DefaultTimeout)
}
