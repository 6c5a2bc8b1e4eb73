// Package store implements the Store component (spec.md §4.1): transactional
// CRUD plus the atomic claim primitive over the persisted entities, backed
// by a relational database through GORM — grounded on the teacher's
// internal/database/mysql singleton, folded into this package since Store
// is now the only consumer of that connection.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/models"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store is the contract every other component depends on. Every method
// that mutates more than one row runs in its own transaction.
type Store interface {
	CreateWorkflow(ctx context.Context, project *models.Project, workflow *models.Workflow, tasks []models.Task) error
	GetWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error)
	ListTasksByWorkflow(ctx context.Context, workflowID string) ([]models.Task, error)
	GetTask(ctx context.Context, workflowID, stepID string) (*models.Task, error)

	ClaimNextReady(ctx context.Context, role string) (*models.Task, error)
	ReleaseClaim(ctx context.Context, workflowID, stepID string) error
	PromoteReady(ctx context.Context, workflowID string) ([]models.Task, error)

	RecordResult(ctx context.Context, workflowID, stepID, workerID string, result *models.Result, newStatus models.TaskStatus) (models.WorkflowStatus, error)
	RecordFailure(ctx context.Context, workflowID, stepID, workerID, note string) (models.TaskStatus, models.WorkflowStatus, error)
	ResetTasksForRework(ctx context.Context, workflowID string, directives []models.ReworkDirective) error
	CasUpdateStatuses(ctx context.Context, workflowID string) (models.WorkflowStatus, error)
	SetWorkflowArtifact(ctx context.Context, workflowID, artifact string) error

	SaveAuditReport(ctx context.Context, report *models.AuditReport) error
	CountAuditReports(ctx context.Context, workflowID string) (int, error)

	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	ListWorkflowsByProject(ctx context.Context, projectID string) ([]models.Workflow, error)

	CreateFileLock(ctx context.Context, lock *models.FileLock) error
	DeleteFileLock(ctx context.Context, path, holderWorkerID string) error
	DeleteFileLocksByHolder(ctx context.Context, holderWorkerID string) error
	ActiveFileLocksForPath(ctx context.Context, path string) ([]models.FileLock, error)
	AllActiveFileLocks(ctx context.Context) ([]models.FileLock, error)
	SweepExpiredFileLocks(ctx context.Context, now time.Time) ([]models.FileLock, error)
	// AcquireFileLocks serializes lock acquisition behind a single
	// transaction that takes FOR UPDATE on the file_locks table before
	// calling check with the locked snapshot, so two concurrent callers
	// can never both pass a compatibility check against the same rows.
	// check returns the locks to persist, or an error to abort the
	// transaction without writing anything.
	AcquireFileLocks(ctx context.Context, check func(active []models.FileLock) ([]models.FileLock, error)) error
	RenewFileLocks(ctx context.Context, workerID, taskStepID string, expiresAt time.Time) error

	SweepExpiredClaims(ctx context.Context, now time.Time) ([]models.Task, error)
	RenewClaim(ctx context.Context, workflowID, stepID, workerID string) error

	AppendEvent(ctx context.Context, entry *models.EventLogEntry) error

	HealthCheck(ctx context.Context) error
}

// gormStore implements Store over a GORM *gorm.DB targeting MySQL.
type gormStore struct {
	db *gorm.DB
}

var (
	instance *gormStore
	initOnce sync.Once
	initErr  error
)

// Open establishes the singleton database connection, matching the
// teacher's GetDB pool-configuration pattern, and runs AutoMigrate for the
// entities this package owns.
func Open(cfg config.MySQLConfig) (Store, error) {
	initOnce.Do(func() {
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username, cfg.Password, cfg.Address, cfg.Database)

		db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			initErr = fmt.Errorf("store: connecting to mysql: %w", err)
			return
		}

		sqlDB, err := db.DB()
		if err != nil {
			initErr = fmt.Errorf("store: obtaining sql.DB: %w", err)
			return
		}
		sqlDB.SetMaxOpenConns(orDefault(cfg.MaxOpenConns, 25))
		sqlDB.SetMaxIdleConns(orDefault(cfg.MaxIdleConns, 10))
		sqlDB.SetConnMaxLifetime(time.Duration(orDefault(cfg.ConnMaxLifetime, 3600)) * time.Second)

		if err := db.AutoMigrate(
			&models.Project{},
			&models.Workflow{},
			&models.Task{},
			&models.Result{},
			&models.AuditReport{},
			&models.FileLock{},
			&models.EventLogEntry{},
		); err != nil {
			initErr = fmt.Errorf("store: auto-migrating schema: %w", err)
			return
		}

		instance = &gormStore{db: db}
	})

	if initErr != nil {
		return nil, initErr
	}
	return instance, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *gormStore) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "obtaining sql.DB", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "pinging store", err)
	}
	return nil
}

func (s *gormStore) AppendEvent(ctx context.Context, entry *models.EventLogEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "appending event", err)
	}
	return nil
}
