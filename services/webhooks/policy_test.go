package webhooks

import (
	"testing"

	"forged/services/builds"
)

func TestPushAllowed(t *testing.T) {
	tests := []struct {
		name     string
		policy   builds.Policy
		patterns string
		ref      string
		want     bool
		wantErr  bool
	}{
		{
			name:   "ALL allows any ref",
			policy: builds.PolicyAll,
			ref:    "feature/anything",
			want:   true,
		},
		{
			name:   "NONE declines",
			policy: builds.PolicyNone,
			ref:    "main",
			want:   false,
		},
		{
			name:   "PR declines pushes",
			policy: builds.PolicyPR,
			ref:    "main",
			want:   false,
		},
		{
			name:     "PATTERNS with match",
			policy:   builds.PolicyPatterns,
			patterns: "main\nrelease/*",
			ref:      "release/1.2",
			want:     true,
		},
		{
			name:     "PATTERNS without match",
			policy:   builds.PolicyPatterns,
			patterns: "main\nrelease/*",
			ref:      "feature/x",
			want:     false,
		},
		{
			name:     "PATTERNS with empty list",
			policy:   builds.PolicyPatterns,
			patterns: "",
			ref:      "main",
			want:     false,
		},
		{
			name:    "unknown policy is an error",
			policy:  builds.Policy("SOMETIMES"),
			ref:     "main",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PushAllowed(tt.policy, tt.patterns, tt.ref)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PushAllowed() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got != tt.want {
				t.Fatalf("PushAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchAny(t *testing.T) {
	tests := []struct {
		name     string
		patterns string
		ref      string
		want     bool
	}{
		{name: "exact", patterns: "main", ref: "main", want: true},
		{name: "case insensitive", patterns: "Main", ref: "mAiN", want: true},
		{name: "star spans segments", patterns: "release/*", ref: "release/2024/05", want: true},
		{name: "star matches empty", patterns: "release/*", ref: "release/", want: true},
		{name: "question mark is one rune", patterns: "v?", ref: "v1", want: true},
		{name: "question mark needs a rune", patterns: "v?", ref: "v", want: false},
		{name: "second line matches", patterns: "main\nhotfix/*", ref: "hotfix/urgent", want: true},
		{name: "blank lines skipped", patterns: "\n\nmain\n", ref: "main", want: true},
		{name: "surrounding spaces trimmed", patterns: "  main  ", ref: "main", want: true},
		{name: "no match", patterns: "main\ndev", ref: "feature/x", want: false},
		{name: "empty pattern list", patterns: "", ref: "main", want: false},
		{name: "star backtracking", patterns: "*fix*", ref: "prefix-hotfix-suffix", want: true},
		{name: "trailing star", patterns: "feat*", ref: "feat", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchAny(tt.patterns, tt.ref); got != tt.want {
				t.Fatalf("MatchAny(%q, %q) = %v, want %v", tt.patterns, tt.ref, got, tt.want)
			}
		})
	}
}
