package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
)

// fakeStore embeds the Store interface so only the methods a given test
// exercises need a concrete implementation; any unoverridden call panics
// on a nil method value, which fails the test loudly rather than silently.
type fakeStore struct {
	store.Store
	claimed         *models.Task
	claimErr        error
	releasedWF      string
	releasedStep    string
	releaseErr      error
	promoted        []models.Task
	promoteErr      error
}

func (f *fakeStore) ClaimNextReady(ctx context.Context, role string) (*models.Task, error) {
	return f.claimed, f.claimErr
}

func (f *fakeStore) ReleaseClaim(ctx context.Context, workflowID, stepID string) error {
	f.releasedWF = workflowID
	f.releasedStep = stepID
	return f.releaseErr
}

func (f *fakeStore) PromoteReady(ctx context.Context, workflowID string) ([]models.Task, error) {
	return f.promoted, f.promoteErr
}

type fakeLocks struct {
	acquireErr error
	acquired   bool
}

func (f *fakeLocks) Acquire(ctx context.Context, workerID, taskStepID string, fileDeps models.FileDependencies) error {
	f.acquired = true
	return f.acquireErr
}
func (f *fakeLocks) Release(ctx context.Context, workerID, taskStepID string) error { return nil }
func (f *fakeLocks) ReleaseAllForWorker(ctx context.Context, workerID string) error { return nil }
func (f *fakeLocks) SweepExpired(ctx context.Context) ([]models.FileLock, error)    { return nil, nil }
func (f *fakeLocks) Renew(ctx context.Context, workerID, taskStepID string) error   { return nil }

func TestDispatch_NoTaskAvailable(t *testing.T) {
	fs := &fakeStore{claimed: nil}
	s := New(fs, &fakeLocks{}, nil)

	task, err := s.Dispatch(context.Background(), "writer", "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task, got %+v", task)
	}
}

func TestDispatch_ClaimErrorPropagates(t *testing.T) {
	fs := &fakeStore{claimErr: errors.New("boom")}
	s := New(fs, &fakeLocks{}, nil)

	_, err := s.Dispatch(context.Background(), "writer", "worker-1")
	if err == nil {
		t.Fatal("expected claim error to propagate")
	}
}

func TestDispatch_NoFileDepsSkipsLockAcquire(t *testing.T) {
	fs := &fakeStore{claimed: &models.Task{StepID: "s1", WorkflowID: "wf1"}}
	locks := &fakeLocks{}
	s := New(fs, locks, nil)

	task, err := s.Dispatch(context.Background(), "writer", "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task == nil || task.StepID != "s1" {
		t.Fatalf("expected claimed task to be returned, got %+v", task)
	}
	if locks.acquired {
		t.Fatal("expected no lock acquisition for a task with no file dependencies")
	}
}

func TestDispatch_LockConflictReleasesClaimAndReturnsNoTask(t *testing.T) {
	fs := &fakeStore{claimed: &models.Task{
		StepID:     "s1",
		WorkflowID: "wf1",
		FileDeps:   models.FileDependencies{"f.txt": models.LockWrite},
	}}
	locks := &fakeLocks{acquireErr: errors.New("path held")}
	s := New(fs, locks, nil)

	task, err := s.Dispatch(context.Background(), "writer", "worker-1")
	if err != nil {
		t.Fatalf("expected a lock conflict to be swallowed, got error: %v", err)
	}
	if task != nil {
		t.Fatalf("expected nil task after a lock conflict, got %+v", task)
	}
	if fs.releasedWF != "wf1" || fs.releasedStep != "s1" {
		t.Fatalf("expected the claim to be released back, got wf=%q step=%q", fs.releasedWF, fs.releasedStep)
	}
}

func TestDispatch_LockAcquiredReturnsTask(t *testing.T) {
	fs := &fakeStore{claimed: &models.Task{
		StepID:     "s1",
		WorkflowID: "wf1",
		FileDeps:   models.FileDependencies{"f.txt": models.LockWrite},
	}}
	locks := &fakeLocks{}
	s := New(fs, locks, nil)

	task, err := s.Dispatch(context.Background(), "writer", "worker-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task == nil || task.StepID != "s1" {
		t.Fatalf("expected the claimed task to be returned, got %+v", task)
	}
	if !locks.acquired {
		t.Fatal("expected lock acquisition to be attempted")
	}
}

func TestPromote_PassesThroughStore(t *testing.T) {
	fs := &fakeStore{promoted: []models.Task{{StepID: "s2"}}}
	s := New(fs, &fakeLocks{}, nil)

	promoted, err := s.Promote(context.Background(), "wf1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(promoted) != 1 || promoted[0].StepID != "s2" {
		t.Fatalf("expected promoted tasks to pass through, got %+v", promoted)
	}
}
