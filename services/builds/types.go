package builds

import (
	"time"

	"github.com/google/uuid"
)

// Policy governs which webhook events trigger a build for a project.
type Policy string

const (
	PolicyAll      Policy = "ALL"
	PolicyPR       Policy = "PR"
	PolicyPatterns Policy = "PATTERNS"
	PolicyNone     Policy = "NONE"
)

// DemoRef is the sandbox branch; builds of it are excluded from quota
// accounting.
const DemoRef = "demo"

// IsDemoRef reports whether ref names the sandbox branch.
func IsDemoRef(ref string) bool { return ref == DemoRef }

// Build is one execution attempt of a project's pipeline for a ref/commit.
type Build struct {
	ID           int64          `json:"id"`
	ProjectID    uuid.UUID      `json:"project_id"`
	Ref          string         `json:"ref"`
	CommitHash   string         `json:"commit_hash"`
	CommitURL    string         `json:"commit_url,omitempty"`
	Status       Status         `json:"status"`
	BuilderHost  string         `json:"builder_host,omitempty"`
	ProcessID    int            `json:"process_id,omitempty"`
	ContainerID  string         `json:"container_id,omitempty"`
	Message      string         `json:"message,omitempty"`
	AllowRebuild bool           `json:"allow_rebuild"`
	Demo         bool           `json:"demo"`
	LocalConfig  bool           `json:"local_config"`
	Payload      map[string]any `json:"payload,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// RoutingKey addresses broker messages for this build to the host that owns
// it. Empty when no builder host was elected.
func (b Build) RoutingKey() string { return b.BuilderHost }

// Project is the trigger-policy subject a build belongs to.
type Project struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	RepoFull  string    `json:"repo_full_name"`
	Policy    Policy    `json:"policy"`
	Patterns  string    `json:"patterns,omitempty"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is the quota subject.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
