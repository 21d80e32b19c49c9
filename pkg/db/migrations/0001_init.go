package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username  string    `gorm:"type:text;uniqueIndex;not null"`
	Email     string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

type Project struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Name      string     `gorm:"type:text;not null"`
	RepoFull  string     `gorm:"type:text;uniqueIndex;not null"`
	Policy    string     `gorm:"type:text;not null;default:'ALL'"`
	Patterns  string     `gorm:"type:text"`
	OwnerID   *uuid.UUID `gorm:"type:uuid"`
	CreatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time  `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Owner     User       `gorm:"foreignKey:OwnerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

type ProjectMember struct {
	ProjectID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	Role      string    `gorm:"type:text;not null;default:'member'"`
	CreatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	Project   Project   `gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	User      User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Branch struct {
	ProjectID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"type:text;primaryKey"`
	Deleted   bool      `gorm:"not null;default:false"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
	Project   Project   `gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

type Build struct {
	ID           int64             `gorm:"primaryKey;autoIncrement"`
	ProjectID    uuid.UUID         `gorm:"type:uuid;not null;index:idx_builds_project_ref,priority:1"`
	Ref          string            `gorm:"type:text;not null;index:idx_builds_project_ref,priority:2"`
	CommitHash   string            `gorm:"type:text;not null;index"`
	CommitURL    string            `gorm:"type:text"`
	Status       int               `gorm:"not null;index"`
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
	Project      Project           `gorm:"foreignKey:ProjectID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).AutoMigrate(
		&User{},
		&Project{},
		&ProjectMember{},
		&Branch{},
		&Build{},
	); err != nil {
		return err
	}

	m := gormDB.WithContext(ctx).Migrator()
	if err := m.CreateConstraint(&Project{}, "Owner"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ProjectMember{}, "Project"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&ProjectMember{}, "User"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Branch{}, "Project"); err != nil {
		return err
	}
	if err := m.CreateConstraint(&Build{}, "Project"); err != nil {
		return err
	}

	return nil
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	if err := gormDB.WithContext(ctx).Migrator().DropTable(
		&Build{},
		&Branch{},
		&ProjectMember{},
		&Project{},
		&User{},
	); err != nil {
		return err
	}

	return nil
}
