package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/models"
)

// CreateFileLock persists a lease row. The Lock Manager is responsible for
// checking compatibility before calling this; the store only records what
// it is told.
func (s *gormStore) CreateFileLock(ctx context.Context, lock *models.FileLock) error {
	if lock.ID == "" {
		lock.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(lock).Error; err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "creating file lock", err)
	}
	return nil
}

// RenewFileLocks extends expires_at for every lease (workerID, taskStepID)
// holds, backing the worker heartbeat endpoint so a long-running task's
// file leases don't expire out from under it while it's still claimed.
func (s *gormStore) RenewFileLocks(ctx context.Context, workerID, taskStepID string, expiresAt time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.FileLock{}).
		Where("holder_worker_id = ? AND task_step_id = ?", workerID, taskStepID).
		Update("expires_at", expiresAt).Error
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "renewing file locks", err)
	}
	return nil
}

func (s *gormStore) DeleteFileLock(ctx context.Context, path, holderWorkerID string) error {
	err := s.db.WithContext(ctx).
		Where("path = ? AND holder_worker_id = ?", path, holderWorkerID).
		Delete(&models.FileLock{}).Error
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "deleting file lock", err)
	}
	return nil
}

func (s *gormStore) DeleteFileLocksByHolder(ctx context.Context, holderWorkerID string) error {
	err := s.db.WithContext(ctx).
		Where("holder_worker_id = ?", holderWorkerID).
		Delete(&models.FileLock{}).Error
	if err != nil {
		return apierr.Wrap(apierr.StoreUnavailable, "deleting file locks by holder", err)
	}
	return nil
}

func (s *gormStore) ActiveFileLocksForPath(ctx context.Context, path string) ([]models.FileLock, error) {
	var locks []models.FileLock
	if err := s.db.WithContext(ctx).Where("path = ?", path).Find(&locks).Error; err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "loading file locks", err)
	}
	return locks, nil
}

// AllActiveFileLocks backs glob-pattern compatibility checks, which must
// be evaluated against every held lock since a glob doesn't index by
// literal path.
func (s *gormStore) AllActiveFileLocks(ctx context.Context) ([]models.FileLock, error) {
	var locks []models.FileLock
	if err := s.db.WithContext(ctx).Find(&locks).Error; err != nil {
		return nil, apierr.Wrap(apierr.StoreUnavailable, "loading file locks", err)
	}
	return locks, nil
}

// AcquireFileLocks takes FOR UPDATE on the file_locks table before handing
// the locked snapshot to check, then persists whatever it returns in the
// same transaction. This closes the TOCTOU window a separate read-then-
// create would leave: two concurrent acquires serialize on the row lock
// instead of both observing the same pre-acquisition snapshot.
func (s *gormStore) AcquireFileLocks(ctx context.Context, check func(active []models.FileLock) ([]models.FileLock, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active []models.FileLock
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Find(&active).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "loading file locks for update", err)
		}

		toCreate, err := check(active)
		if err != nil {
			return err
		}

		for i := range toCreate {
			if toCreate[i].ID == "" {
				toCreate[i].ID = uuid.NewString()
			}
			if err := tx.Create(&toCreate[i]).Error; err != nil {
				return apierr.Wrap(apierr.StoreUnavailable, "creating file lock", err)
			}
		}
		return nil
	})
}

func (s *gormStore) SweepExpiredFileLocks(ctx context.Context, now time.Time) ([]models.FileLock, error) {
	var expired []models.FileLock

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("expires_at < ?", now).
			Find(&expired).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "finding expired file locks", err)
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]string, 0, len(expired))
		for _, l := range expired {
			ids = append(ids, l.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&models.FileLock{}).Error; err != nil {
			return apierr.Wrap(apierr.StoreUnavailable, "deleting expired file locks", err)
		}
		return nil
	})

	return expired, err
}
