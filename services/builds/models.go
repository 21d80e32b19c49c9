package builds

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type buildModel struct {
	ID           int64             `gorm:"primaryKey;autoIncrement"`
	ProjectID    uuid.UUID         `gorm:"type:uuid;not null"`
	Ref          string            `gorm:"type:text;not null"`
	CommitHash   string            `gorm:"type:text;not null"`
	CommitURL    string            `gorm:"type:text"`
	Status       int               `gorm:"not null"`
	BuilderHost  *string           `gorm:"type:text"`
	ProcessID    *int              `gorm:""`
	ContainerID  *string           `gorm:"type:text"`
	Message      string            `gorm:"type:text"`
	AllowRebuild bool              `gorm:"not null;default:false"`
	Demo         bool              `gorm:"not null;default:false"`
	LocalConfig  bool              `gorm:"not null;default:false"`
	Payload      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt    time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (buildModel) TableName() string { return "builds" }

func (m buildModel) toAPI() Build {
	return Build{
		ID:           m.ID,
		ProjectID:    m.ProjectID,
		Ref:          m.Ref,
		CommitHash:   m.CommitHash,
		CommitURL:    m.CommitURL,
		Status:       Status(m.Status),
		BuilderHost:  stringOrEmpty(m.BuilderHost),
		ProcessID:    intOrZero(m.ProcessID),
		ContainerID:  stringOrEmpty(m.ContainerID),
		Message:      m.Message,
		AllowRebuild: m.AllowRebuild,
		Demo:         m.Demo,
		LocalConfig:  m.LocalConfig,
		Payload:      mapFromJSONMap(m.Payload),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

type projectModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name      string     `gorm:"type:text;not null"`
	RepoFull  string     `gorm:"type:text;uniqueIndex;not null"`
	Policy    string     `gorm:"type:text;not null"`
	Patterns  string     `gorm:"type:text"`
	OwnerID   *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (projectModel) TableName() string { return "projects" }

func (m projectModel) toAPI() Project {
	return Project{
		ID:        m.ID,
		Name:      m.Name,
		RepoFull:  m.RepoFull,
		Policy:    Policy(m.Policy),
		Patterns:  m.Patterns,
		OwnerID:   valueOrNil(m.OwnerID),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type userModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username  string    `gorm:"type:text;uniqueIndex;not null"`
	Email     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (userModel) TableName() string { return "users" }

func (m userModel) toAPI() User {
	return User{
		ID:        m.ID,
		Username:  m.Username,
		Email:     m.Email,
		CreatedAt: m.CreatedAt,
	}
}

type branchModel struct {
	ProjectID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;primaryKey"`
	Deleted   bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (branchModel) TableName() string { return "branches" }

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(i *int) int {
	if i == nil {
		return 0
	}
	return *i
}

func valueOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

func mapFromJSONMap(src datatypes.JSONMap) map[string]any {
	if src == nil {
		return nil
	}
	out := make(map[string]any, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func toJSONMap(src map[string]any) datatypes.JSONMap {
	if src == nil {
		return nil
	}
	out := datatypes.JSONMap{}
	for k, v := range src {
		out[k] = v
	}
	return out
}
