package builds

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a build, project, or user does not exist.
var ErrNotFound = errors.New("not found")

// Store is the build record store, the single source of truth shared by the
// scheduler, reaper, and quota engine. Reads and writes are plain gorm calls;
// apart from CancelScheduled there is no cross-call locking.
type Store struct {
	orm *gorm.DB
}

// NewStore creates a Store bound to the provided gorm handle.
func NewStore(orm *gorm.DB) (*Store, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Store{orm: orm}, nil
}

// Create persists b and fills in its assigned id and timestamps.
func (s *Store) Create(ctx context.Context, b *Build) error {
	if b == nil {
		return errors.New("nil build")
	}

	model := buildModel{
		ProjectID:    b.ProjectID,
		Ref:          b.Ref,
		CommitHash:   b.CommitHash,
		CommitURL:    b.CommitURL,
		Status:       int(b.Status),
		Message:      b.Message,
		AllowRebuild: b.AllowRebuild,
		Demo:         b.Demo,
		LocalConfig:  b.LocalConfig,
		Payload:      toJSONMap(b.Payload),
	}
	if b.BuilderHost != "" {
		host := b.BuilderHost
		model.BuilderHost = &host
	}

	if err := s.orm.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("create build: %w", err)
	}

	*b = model.toAPI()
	return nil
}

// Get loads a build by id.
func (s *Store) Get(ctx context.Context, id int64) (Build, error) {
	var model buildModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Build{}, ErrNotFound
	}
	if err != nil {
		return Build{}, err
	}
	return model.toAPI(), nil
}

// PendingForRef returns the non-terminal builds competing for (project, ref),
// oldest first.
func (s *Store) PendingForRef(ctx context.Context, projectID uuid.UUID, ref string) ([]Build, error) {
	var models []buildModel
	err := s.orm.WithContext(ctx).
		Where("project_id = ? AND ref = ? AND status IN ?", projectID, ref, pendingStatuses()).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAPISlice(models), nil
}

// WithHash returns the project's builds carrying exactly this commit hash.
func (s *Store) WithHash(ctx context.Context, projectID uuid.UUID, hash string) ([]Build, error) {
	var models []buildModel
	err := s.orm.WithContext(ctx).
		Where("project_id = ? AND commit_hash = ?", projectID, hash).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toAPISlice(models), nil
}

// CancelScheduled flips a build to CANCELED only if it is still SCHEDULED,
// reporting whether this call won the transition. The conditional update keeps
// two racing schedulers from both claiming the same victim.
func (s *Store) CancelScheduled(ctx context.Context, id int64) (bool, error) {
	res := s.orm.WithContext(ctx).
		Model(&buildModel{}).
		Where("id = ? AND status = ?", id, int(StatusScheduled)).
		Update("status", int(StatusCanceled))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// SetTerminal records a terminal status and optional message for the build.
func (s *Store) SetTerminal(ctx context.Context, id int64, status Status, message string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	updates := map[string]any{"status": int(status)}
	if message != "" {
		updates["message"] = message
	}
	return s.orm.WithContext(ctx).
		Model(&buildModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// SetWorkerState applies a worker's pickup report: the active status plus the
// process and container the build landed in. Terminal builds are left alone;
// late reports from a worker that lost the race must not resurrect them.
func (s *Store) SetWorkerState(ctx context.Context, id int64, status Status, processID int, containerID string) error {
	if !status.IsActive() {
		return fmt.Errorf("status %s is not a worker state", status)
	}
	updates := map[string]any{"status": int(status)}
	if processID > 0 {
		updates["process_id"] = processID
	}
	if containerID != "" {
		updates["container_id"] = containerID
	}
	return s.orm.WithContext(ctx).
		Model(&buildModel{}).
		Where("id = ? AND status IN ?", id, pendingStatuses()).
		Updates(updates).Error
}

// MarkBranchDeleted records that the provider deleted the branch.
func (s *Store) MarkBranchDeleted(ctx context.Context, projectID uuid.UUID, name string) error {
	model := branchModel{ProjectID: projectID, Name: name, Deleted: true}
	return s.orm.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "name"}},
			DoUpdates: clause.Assignments(map[string]any{"deleted": true}),
		}).
		Create(&model).Error
}

// Project loads a project by id.
func (s *Store) Project(ctx context.Context, id uuid.UUID) (Project, error) {
	var model projectModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return model.toAPI(), nil
}

// ProjectByRepo loads a project by its repository full name (owner/repo).
func (s *Store) ProjectByRepo(ctx context.Context, repoFull string) (Project, error) {
	var model projectModel
	err := s.orm.WithContext(ctx).First(&model, "repo_full = ?", repoFull).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	return model.toAPI(), nil
}

// User loads a user by id.
func (s *Store) User(ctx context.Context, id uuid.UUID) (User, error) {
	var model userModel
	err := s.orm.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return model.toAPI(), nil
}

func pendingStatuses() []int {
	return []int{int(StatusScheduled), int(StatusBuilding), int(StatusRunning)}
}

func toAPISlice(models []buildModel) []Build {
	out := make([]Build, 0, len(models))
	for _, m := range models {
		out = append(out, m.toAPI())
	}
	return out
}
