package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ironstar-game/ironstar/game"
)

func TestAcquireAscendingOrder(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	ctx, releaseBattle, err := m.Acquire(ctx, Battle)
	if err != nil {
		t.Fatal(err)
	}
	ctx, releaseUser, err := m.Acquire(ctx, User)
	if err != nil {
		t.Fatal(err)
	}
	ctx, releaseDB, err := m.Acquire(ctx, DBUsers)
	if err != nil {
		t.Fatal(err)
	}

	if !Holds(ctx, Battle) || !Holds(ctx, User) || !Holds(ctx, DBUsers) {
		t.Error("Context should record all three held levels")
	}
	if top, ok := Highest(ctx); !ok || top != DBUsers {
		t.Errorf("Expected highest DB_USERS, got %v", top)
	}

	releaseDB()
	releaseUser()
	releaseBattle()
}

func TestAcquireOutOfOrderFails(t *testing.T) {
	m := NewManager()

	ctx, release, err := m.Acquire(context.Background(), User)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, _, err = m.Acquire(ctx, Battle)
	if !errors.Is(err, game.ErrLockOrder) {
		t.Errorf("Expected lock order violation, got %v", err)
	}
}

func TestReentrantAcquireFails(t *testing.T) {
	m := NewManager()

	ctx, release, err := m.Acquire(context.Background(), Battle)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, _, err = m.Acquire(ctx, Battle)
	if !errors.Is(err, game.ErrReentrant) {
		t.Errorf("Expected reentrant error, got %v", err)
	}
}

func TestAcquireCancelledWhileWaiting(t *testing.T) {
	m := NewManager()

	_, release, err := m.Acquire(context.Background(), World)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = m.Acquire(ctx, World)
	if !errors.Is(err, game.ErrCancelled) {
		t.Errorf("Expected cancelled, got %v", err)
	}
}

func TestSharedAcquireAllowsConcurrentReaders(t *testing.T) {
	m := NewManager()

	ctx1, release1, err := m.AcquireShared(context.Background(), DBUsers)
	if err != nil {
		t.Fatal(err)
	}
	_, release2, err := m.AcquireShared(context.Background(), DBUsers)
	if err != nil {
		t.Fatal(err)
	}

	// A writer must wait until both readers release.
	done := make(chan struct{})
	go func() {
		_, release, err := m.Acquire(context.Background(), DBUsers)
		if err == nil {
			release()
		}
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Writer acquired while readers held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	release1()
	release2()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Writer never acquired after readers released")
	}

	_ = ctx1
}

func TestReleaseAllowsReacquire(t *testing.T) {
	m := NewManager()

	_, release, err := m.Acquire(context.Background(), Message)
	if err != nil {
		t.Fatal(err)
	}
	release()

	_, release, err = m.Acquire(context.Background(), Message)
	if err != nil {
		t.Fatalf("Reacquire after release failed: %v", err)
	}
	release()
}

func TestLevelString(t *testing.T) {
	if Battle.String() != "BATTLE" || DBBattles.String() != "DB_BATTLES" {
		t.Errorf("Unexpected level names: %s, %s", Battle, DBBattles)
	}
}
