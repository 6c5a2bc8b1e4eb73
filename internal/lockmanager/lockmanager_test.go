package lockmanager

import (
	"context"
	"testing"
	"time"

	"github.com/maic-labs/mcs/internal/apierr"
	"github.com/maic-labs/mcs/internal/models"
	"github.com/maic-labs/mcs/internal/store"
)

// fakeLockStore embeds store.Store so AcquireFileLocks is the only method
// under test; it plays the role of a transactional row lock by applying
// check against whatever active set the test seeds.
type fakeLockStore struct {
	store.Store
	active  []models.FileLock
	created []models.FileLock
}

func (f *fakeLockStore) AcquireFileLocks(ctx context.Context, check func(active []models.FileLock) ([]models.FileLock, error)) error {
	toCreate, err := check(f.active)
	if err != nil {
		return err
	}
	f.created = append(f.created, toCreate...)
	f.active = append(f.active, toCreate...)
	return nil
}

func TestAcquire_GrantsWhenNoConflict(t *testing.T) {
	fs := &fakeLockStore{}
	m := &manager{store: fs, ttl: time.Minute}

	err := m.Acquire(context.Background(), "worker-1", "step-1", models.FileDependencies{"a.txt": models.LockWrite})
	if err != nil {
		t.Fatalf("expected acquire to succeed, got %v", err)
	}
	if len(fs.created) != 1 || fs.created[0].Path != "a.txt" {
		t.Fatalf("expected one lock created for a.txt, got %+v", fs.created)
	}
}

func TestAcquire_RejectsIncompatibleConcurrentHold(t *testing.T) {
	fs := &fakeLockStore{
		active: []models.FileLock{
			{Path: "a.txt", HolderWorker: "worker-2", TaskStepID: "step-2", Mode: models.LockWrite},
		},
	}
	m := &manager{store: fs, ttl: time.Minute}

	err := m.Acquire(context.Background(), "worker-1", "step-1", models.FileDependencies{"a.txt": models.LockWrite})
	if err == nil {
		t.Fatal("expected a conflicting write/write hold to be rejected")
	}
	if apierr.KindOf(err) != apierr.Conflict {
		t.Fatalf("expected apierr.Conflict, got %v", err)
	}
	if len(fs.created) != 0 {
		t.Fatalf("expected no lock to be created on conflict, got %+v", fs.created)
	}
}

func TestIsGlobPattern(t *testing.T) {
	cases := map[string]bool{
		"src/main.go":   false,
		"src/*.go":      true,
		"src/?ain.go":   true,
		"src/[mb]ain.go": true,
		"src/{a,b}.go":  true,
	}
	for path, want := range cases {
		if got := isGlobPattern(path); got != want {
			t.Errorf("isGlobPattern(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestPathsOverlap_LiteralVsLiteral(t *testing.T) {
	if !pathsOverlap("a.txt", "a.txt") {
		t.Error("identical literal paths should overlap")
	}
	if pathsOverlap("a.txt", "b.txt") {
		t.Error("distinct literal paths should not overlap")
	}
}

func TestPathsOverlap_LiteralVsGlob(t *testing.T) {
	if !pathsOverlap("src/*.go", "src/main.go") {
		t.Error("a glob should overlap a literal it matches")
	}
	if pathsOverlap("src/*.go", "docs/readme.md") {
		t.Error("a glob should not overlap a literal it doesn't match")
	}
	if !pathsOverlap("src/main.go", "src/*.go") {
		t.Error("overlap should be symmetric regardless of argument order")
	}
}

func TestPathsOverlap_GlobVsGlob_TreatsDistinctGlobsAsOverlapping(t *testing.T) {
	if !pathsOverlap("src/*.go", "src/*.go") {
		t.Error("identical glob patterns should overlap")
	}
	if !pathsOverlap("src/*.go", "src/**/*.go") {
		t.Error("distinct glob patterns should be treated as overlapping, since they could match the same file and no cheap disjointness proof exists")
	}
}
