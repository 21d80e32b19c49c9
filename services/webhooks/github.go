package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnsupportedEvent marks webhook events the platform does not build from
// (ping, issues, etc.). Callers acknowledge and drop them.
var ErrUnsupportedEvent = errors.New("unsupported webhook event")

// buildableActions are the pull-request actions that represent new or updated
// code. Close/merge events never build.
var buildableActions = map[string]bool{
	"opened":      true,
	"reopened":    true,
	"synchronize": true,
}

// ParseGitHubEvent maps a raw GitHub webhook delivery (event name from the
// X-GitHub-Event header plus body) onto the provider-neutral Payload.
func ParseGitHubEvent(event string, body []byte) (Payload, error) {
	switch event {
	case "pull_request":
		var raw struct {
			Action      string `json:"action"`
			Number      int    `json:"number"`
			PullRequest struct {
				Head struct {
					SHA string `json:"sha"`
				} `json:"head"`
			} `json:"pull_request"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return Payload{}, fmt.Errorf("decode pull_request event: %w", err)
		}
		return Payload{
			IsPullRequest: true,
			IsBuildable:   buildableActions[raw.Action],
			Hash:          raw.PullRequest.Head.SHA,
			PRNumber:      raw.Number,
			RepoFull:      raw.Repository.FullName,
		}, nil
	case "push":
		var raw struct {
			Ref        string `json:"ref"`
			After      string `json:"after"`
			Repository struct {
				FullName string `json:"full_name"`
			} `json:"repository"`
		}
		if err := json.Unmarshal(body, &raw); err != nil {
			return Payload{}, fmt.Errorf("decode push event: %w", err)
		}
		return Payload{
			HasRef:   raw.Ref != "",
			Ref:      raw.Ref,
			Hash:     raw.After,
			RepoFull: raw.Repository.FullName,
		}, nil
	default:
		return Payload{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event)
	}
}

// GitHubClient resolves refs through the GitHub commits API. It is the only
// provider call the core depends on.
type GitHubClient struct {
	apiBase string
	token   string
	http    *http.Client
}

// NewGitHubClient creates a client against apiBase (e.g. "https://api.github.com").
// The token may be empty for public repositories.
func NewGitHubClient(apiBase, token string) *GitHubClient {
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	return &GitHubClient{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ResolveRef returns the commit hash the symbolic ref currently points at.
func (c *GitHubClient) ResolveRef(ctx context.Context, repoFull, ref string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/commits/%s", c.apiBase, repoFull, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider returned %d for %s@%s", resp.StatusCode, repoFull, ref)
	}

	var raw struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return "", fmt.Errorf("decode provider response: %w", err)
	}
	if raw.SHA == "" {
		return "", fmt.Errorf("provider returned no hash for %s@%s", repoFull, ref)
	}
	return raw.SHA, nil
}
