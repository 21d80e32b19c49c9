package api

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"

	"forged/pkg/bus"
	"forged/pkg/s3"
	"forged/pkg/stream"
	"forged/services/builds"
	"forged/services/logrelay"
	"forged/services/quota"
	"forged/services/reaper"
	"forged/services/scheduler"
	"forged/services/webhooks"
)

// Store holds the external dependencies required by the API layer.
type Store struct {
	DB       *pgxpool.Pool
	ORM      *gorm.DB
	Bus      *bus.Bus
	Stream   stream.Store
	Provider webhooks.Provider
	Blobs    *s3.Client
}

// Config controls runtime behaviour for the API handlers.
type Config struct {
	Builders        []string
	UserBuildLimit  int
	ProviderBaseURL string
	ArchiveBucket   string
}

// buildRecords is the slice of the record store the HTTP handlers use.
type buildRecords interface {
	Get(ctx context.Context, id int64) (builds.Build, error)
	Project(ctx context.Context, id uuid.UUID) (builds.Project, error)
	ProjectByRepo(ctx context.Context, repoFull string) (builds.Project, error)
	User(ctx context.Context, id uuid.UUID) (builds.User, error)
	SetWorkerState(ctx context.Context, id int64, status builds.Status, processID int, containerID string) error
	SetTerminal(ctx context.Context, id int64, status builds.Status, message string) error
}

// API wires the evaluator, scheduler, quota engine, and termination requester
// behind the HTTP surface.
type API struct {
	store   *Store
	config  Config
	records buildRecords
	eval    *webhooks.Evaluator
	sched   *scheduler.Scheduler
	quotas  *quota.Engine
	orders  *reaper.Requester
	archive *logrelay.Archiver
	logger  *log.Logger
}

// New initialises the API layer and its components from the provided
// dependencies.
func New(store *Store, cfg Config, logger *log.Logger) (*API, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if store.ORM == nil {
		return nil, errors.New("store ORM is required")
	}
	if store.DB == nil {
		return nil, errors.New("store DB pool is required")
	}
	if store.Bus == nil {
		return nil, errors.New("store bus is required")
	}
	if store.Provider == nil {
		return nil, errors.New("provider client is required")
	}
	if logger == nil {
		logger = log.Default()
	}
	if cfg.UserBuildLimit <= 0 {
		cfg.UserBuildLimit = 2
	}

	records, err := builds.NewStore(store.ORM)
	if err != nil {
		return nil, err
	}

	eval, err := webhooks.NewEvaluator(records, store.Provider)
	if err != nil {
		return nil, err
	}

	orders, err := reaper.NewRequester(store.Bus)
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(records, orders, store.Bus, store.Stream, cfg.Builders, cfg.ProviderBaseURL, logger)
	if err != nil {
		return nil, err
	}

	quotaStore, err := quota.NewPGStore(store.DB)
	if err != nil {
		return nil, err
	}
	quotas, err := quota.NewEngine(quotaStore, orders, store.Stream, cfg.UserBuildLimit, logger)
	if err != nil {
		return nil, err
	}

	a := &API{
		store:   store,
		config:  cfg,
		records: records,
		eval:    eval,
		sched:   sched,
		quotas:  quotas,
		orders:  orders,
		logger:  logger,
	}

	if cfg.ArchiveBucket != "" && store.Blobs != nil && store.Stream != nil {
		archive, err := logrelay.NewArchiver(store.Stream, store.Blobs, cfg.ArchiveBucket)
		if err != nil {
			return nil, err
		}
		a.archive = archive
	}

	return a, nil
}
