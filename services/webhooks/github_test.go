package webhooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseGitHubPushEvent(t *testing.T) {
	body := []byte(`{
		"ref": "refs/heads/main",
		"after": "abc123",
		"repository": {"full_name": "acme/widgets"}
	}`)

	p, err := ParseGitHubEvent("push", body)
	require.NoError(t, err)
	require.False(t, p.IsPullRequest)
	require.True(t, p.HasRef)
	require.Equal(t, "refs/heads/main", p.Ref)
	require.Equal(t, "abc123", p.Hash)
	require.Equal(t, "acme/widgets", p.RepoFull)
}

func TestParseGitHubPullRequestEvent(t *testing.T) {
	body := []byte(`{
		"action": "synchronize",
		"number": 42,
		"pull_request": {"head": {"sha": "def456"}},
		"repository": {"full_name": "acme/widgets"}
	}`)

	p, err := ParseGitHubEvent("pull_request", body)
	require.NoError(t, err)
	require.True(t, p.IsPullRequest)
	require.True(t, p.IsBuildable)
	require.Equal(t, 42, p.PRNumber)
	require.Equal(t, "def456", p.Hash)
}

func TestParseGitHubClosedPullRequestNotBuildable(t *testing.T) {
	body := []byte(`{"action": "closed", "number": 7, "pull_request": {"head": {"sha": "x"}}}`)

	p, err := ParseGitHubEvent("pull_request", body)
	require.NoError(t, err)
	require.True(t, p.IsPullRequest)
	require.False(t, p.IsBuildable)
}

func TestParseGitHubUnsupportedEvent(t *testing.T) {
	_, err := ParseGitHubEvent("ping", []byte(`{}`))
	require.True(t, errors.Is(err, ErrUnsupportedEvent))
}
