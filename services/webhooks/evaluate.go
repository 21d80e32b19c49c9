package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"forged/services/builds"
)

// ZeroHash is the hash a provider sends for a deleted branch.
const ZeroHash = "0000000000000000000000000000000000000000"

// Decline reasons, machine-readable. A decline is a normal outcome, not an
// error.
const (
	ReasonPolicy        = "declined_by_policy"
	ReasonNotBuildable  = "not_buildable"
	ReasonNoRef         = "missing_ref"
	ReasonBranchDeleted = "branch_deleted"
	ReasonDuplicate     = "duplicate_hash"
)

// Decision is the evaluator's outcome: either proceed to schedule (Ref, Hash)
// or a decline carrying its reason.
type Decision struct {
	Proceed bool   `json:"proceed"`
	Ref     string `json:"ref,omitempty"`
	Hash    string `json:"hash,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func proceed(ref, hash string) Decision { return Decision{Proceed: true, Ref: ref, Hash: hash} }
func declined(reason string) Decision   { return Decision{Reason: reason} }

// RecordStore is the slice of the build record store the evaluator needs.
type RecordStore interface {
	WithHash(ctx context.Context, projectID uuid.UUID, hash string) ([]builds.Build, error)
	MarkBranchDeleted(ctx context.Context, projectID uuid.UUID, name string) error
}

// Evaluator turns a webhook payload plus project policy into a build/no-build
// decision.
type Evaluator struct {
	store    RecordStore
	provider Provider
}

// NewEvaluator creates an Evaluator bound to the provided dependencies.
func NewEvaluator(store RecordStore, provider Provider) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if provider == nil {
		return nil, errors.New("provider client is required")
	}
	return &Evaluator{store: store, provider: provider}, nil
}

// Evaluate applies the project's trigger policy to the payload. Errors are
// reserved for provider failures, storage failures, and unrecognized policy
// values; everything else is a Decision.
func (e *Evaluator) Evaluate(ctx context.Context, p Payload, project builds.Project) (Decision, error) {
	if p.IsPullRequest {
		return e.evaluatePullRequest(ctx, p, project)
	}
	return e.evaluatePush(ctx, p, project)
}

func (e *Evaluator) evaluatePullRequest(ctx context.Context, p Payload, project builds.Project) (Decision, error) {
	if project.Policy != builds.PolicyAll && project.Policy != builds.PolicyPR {
		return declined(ReasonPolicy), nil
	}
	if !p.IsBuildable {
		return declined(ReasonNotBuildable), nil
	}

	ref := fmt.Sprintf("pull/%d/head", p.PRNumber)
	hash, err := e.provider.ResolveRef(ctx, project.RepoFull, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve %s: %w", ref, err)
	}

	dup, err := e.isDuplicate(ctx, project.ID, hash)
	if err != nil {
		return Decision{}, err
	}
	if dup {
		return declined(ReasonDuplicate), nil
	}

	return proceed(ref, hash), nil
}

func (e *Evaluator) evaluatePush(ctx context.Context, p Payload, project builds.Project) (Decision, error) {
	if !p.HasRef || p.Ref == "" {
		return declined(ReasonNoRef), nil
	}
	ref := strings.TrimPrefix(p.Ref, "refs/heads/")

	// An all-zero hash is the provider's way of reporting a branch deletion;
	// policy never gets a say.
	if p.Hash == ZeroHash {
		if err := e.store.MarkBranchDeleted(ctx, project.ID, ref); err != nil {
			return Decision{}, err
		}
		return declined(ReasonBranchDeleted), nil
	}

	allowed, err := PushAllowed(project.Policy, project.Patterns, ref)
	if err != nil {
		return Decision{}, err
	}
	if !allowed {
		return declined(ReasonPolicy), nil
	}

	dup, err := e.isDuplicate(ctx, project.ID, p.Hash)
	if err != nil {
		return Decision{}, err
	}
	if dup {
		return declined(ReasonDuplicate), nil
	}

	return proceed(ref, p.Hash), nil
}

// isDuplicate reports whether existing builds of this hash block a new one.
// A single build flagged allow-rebuild unblocks the hash.
func (e *Evaluator) isDuplicate(ctx context.Context, projectID uuid.UUID, hash string) (bool, error) {
	existing, err := e.store.WithHash(ctx, projectID, hash)
	if err != nil {
		return false, err
	}
	if len(existing) == 0 {
		return false, nil
	}
	for _, b := range existing {
		if b.AllowRebuild {
			return false, nil
		}
	}
	return true, nil
}
