package webhooks

import "context"

// Payload is the provider-neutral form of an inbound webhook, produced by a
// provider adapter at the edge. The evaluator never sees provider JSON.
type Payload struct {
	IsPullRequest bool
	IsBuildable   bool
	HasRef        bool
	Ref           string
	Hash          string
	PRNumber      int
	RepoFull      string
}

// Provider resolves symbolic refs against the source-control provider. Hash
// resolution for pull requests goes through here; failures abort evaluation.
type Provider interface {
	ResolveRef(ctx context.Context, repoFull, ref string) (string, error)
}
