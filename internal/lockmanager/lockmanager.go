// Package lockmanager implements the Lock Manager component (spec.md §4.3):
// short-lived file leases that keep two tasks from touching the same
// artifact concurrently in an incompatible mode. The Store's file_locks
// table is the source of truth every operation reads and writes; Redis
// only keeps a best-effort TTL mirror of each granted lease, which nothing
// here reads back — grounded on the teacher's internal/database/redis singleton,
// folded into this package since it's now the Lock Manager's only client.
package lockmanager

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gobwas/glob"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
	"github.com/maic-labs/mcs/pkg/logger"
)

// LockManager grants and releases file leases for in-flight tasks.
type LockManager interface {
	// Acquire grants every path in fileDeps to (workerID, taskStepID), or
	// grants none of them, returning apierr.Conflict naming the first
	// incompatible path it finds.
	Acquire(ctx context.Context, workerID, taskStepID string, fileDeps models.FileDependencies) error
	// Release drops every lease held by (workerID, taskStepID).
	Release(ctx context.Context, workerID, taskStepID string) error
	// ReleaseAllForWorker drops every lease a worker holds, across all of
	// its tasks.
	ReleaseAllForWorker(ctx context.Context, workerID string) error
	// SweepExpired clears leases past their TTL from both Redis and the
	// durable table, returning the paths it freed.
	SweepExpired(ctx context.Context) ([]models.FileLock, error)
	// Renew extends every lease (workerID, taskStepID) holds by the
	// manager's configured TTL, backing the worker heartbeat so a
	// long-running claim doesn't outlive its file leases.
	Renew(ctx context.Context, workerID, taskStepID string) error
}

type manager struct {
	store store.Store
	redis *redis.Client
	ttl   time.Duration
	log   *logger.Logger
}

// New connects to Redis per cfg and returns a LockManager backed by st.
// If Redis does not answer a ping, the manager runs with a nil
// *redis.Client (degraded mode): every operation still goes to the Store,
// and no Redis mirror is written.
func New(cfg config.RedisConfig, ttl time.Duration, st store.Store) (LockManager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return &manager{store: st, redis: nil, ttl: ttl, log: logger.New("lockmanager", "", "")}, nil
	}

	return &manager{store: st, redis: rdb, ttl: ttl, log: logger.New("lockmanager", "", "")}, nil
}

func (m *manager) Acquire(ctx context.Context, workerID, taskStepID string, fileDeps models.FileDependencies) error {
	if len(fileDeps) == 0 {
		return nil
	}

	now := time.Now().UTC()
	expiresAt := now.Add(m.ttl)
	var granted []models.FileLock

	err := m.store.AcquireFileLocks(ctx, func(active []models.FileLock) ([]models.FileLock, error) {
		for path, mode := range fileDeps {
			for _, held := range active {
				if held.HolderWorker == workerID && held.TaskStepID == taskStepID {
					continue
				}
				if !pathsOverlap(path, held.Path) {
					continue
				}
				if !models.Compatible(held.Mode, mode) {
					return nil, apierr.New(apierr.Conflict, fmt.Sprintf("path %q is held in mode %q, incompatible with requested mode %q", path, held.Mode, mode))
				}
			}
		}

		toCreate := make([]models.FileLock, 0, len(fileDeps))
		for path, mode := range fileDeps {
			toCreate = append(toCreate, models.FileLock{
				Path:         path,
				HolderWorker: workerID,
				TaskStepID:   taskStepID,
				Mode:         mode,
				AcquiredAt:   now,
				ExpiresAt:    expiresAt,
			})
		}
		granted = toCreate
		return toCreate, nil
	})
	if err != nil {
		return err
	}

	if m.redis != nil {
		for _, lock := range granted {
			key := redisLockKey(lock.Path, workerID, taskStepID)
			if err := m.redis.Set(ctx, key, string(lock.Mode), m.ttl).Err(); err != nil {
				m.log.WithError(err).Warn("redis lease mirror failed, durable lock remains authoritative")
			}
		}
	}

	return nil
}

// Renew extends the durable lease only. Redis is a write-only TTL mirror
// here (Acquire never reads it back; the durable table is the sole source
// Acquire checks against), so letting the mirrored key lapse ahead of the
// renewed row does not risk a false compatibility check.
func (m *manager) Renew(ctx context.Context, workerID, taskStepID string) error {
	expiresAt := time.Now().UTC().Add(m.ttl)
	return m.store.RenewFileLocks(ctx, workerID, taskStepID, expiresAt)
}

func (m *manager) Release(ctx context.Context, workerID, taskStepID string) error {
	active, err := m.store.AllActiveFileLocks(ctx)
	if err != nil {
		return err
	}
	for _, l := range active {
		if l.HolderWorker != workerID || l.TaskStepID != taskStepID {
			continue
		}
		if err := m.store.DeleteFileLock(ctx, l.Path, workerID); err != nil {
			return err
		}
		if m.redis != nil {
			m.redis.Del(ctx, redisLockKey(l.Path, workerID, taskStepID))
		}
	}
	return nil
}

func (m *manager) ReleaseAllForWorker(ctx context.Context, workerID string) error {
	if err := m.store.DeleteFileLocksByHolder(ctx, workerID); err != nil {
		return err
	}
	if m.redis != nil {
		iter := m.redis.Scan(ctx, 0, redisLockKeyPrefix(workerID)+"*", 100).Iterator()
		for iter.Next(ctx) {
			m.redis.Del(ctx, iter.Val())
		}
	}
	return nil
}

func (m *manager) SweepExpired(ctx context.Context) ([]models.FileLock, error) {
	expired, err := m.store.SweepExpiredFileLocks(ctx, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if m.redis != nil {
		for _, l := range expired {
			m.redis.Del(ctx, redisLockKey(l.Path, l.HolderWorker, l.TaskStepID))
		}
	}
	return expired, nil
}

func redisLockKey(path, workerID, taskStepID string) string {
	return fmt.Sprintf("mcs:lock:%s:%s:%s", workerID, taskStepID, path)
}

func redisLockKeyPrefix(workerID string) string {
	return fmt.Sprintf("mcs:lock:%s:", workerID)
}

// pathsOverlap approximates glob-pattern intersection: a literal path
// overlaps a pattern when the pattern matches it. Two distinct glob
// patterns have no cheap exact intersection test, so any two non-identical
// globs are treated as overlapping — a false positive here only costs
// unnecessary lock contention, while a false negative would let two
// incompatible leases coexist on a path both patterns can actually match.
func pathsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	aIsGlob := isGlobPattern(a)
	bIsGlob := isGlobPattern(b)

	switch {
	case !aIsGlob && !bIsGlob:
		return a == b
	case aIsGlob && !bIsGlob:
		g, err := glob.Compile(a)
		return err == nil && g.Match(b)
	case !aIsGlob && bIsGlob:
		g, err := glob.Compile(b)
		return err == nil && g.Match(a)
	default:
		return true
	}
}

func isGlobPattern(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
