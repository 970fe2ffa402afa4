package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepOnce(t *testing.T) {
	env := newTestEnv(t)
	capsule := env.createCapsule(t, "owner_1", iceContent())

	issue(t, env, capsule.ID, "medic_a")
	issue(t, env, capsule.ID, "medic_b")
	consumed := issue(t, env, capsule.ID, "medic_c")
	_, err := env.keys.VerifyAndConsume(context.Background(), consumed.BurstKey, "medic_c")
	require.NoError(t, err)

	r, err := env.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.LocksPurged)
	assert.Zero(t, r.KeysExpired)

	env.clock.advance(testTTL)
	r, err = env.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), r.LocksPurged)
	assert.Equal(t, int64(2), r.KeysExpired, "the consumed key is not counted")

	// a second pass over the same window reports nothing new
	r, err = env.sweeper.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.LocksPurged)
	assert.Zero(t, r.KeysExpired)
}

func TestSweepOnce_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.sweeper.locks = &failingPurge{fakeLocks: newFakeLocks()}

	_, err := env.sweeper.SweepOnce(context.Background())
	require.ErrorIs(t, err, common.ErrStoreUnavailable)
}

type failingPurge struct{ *fakeLocks }

func (f *failingPurge) Purge(ctx context.Context, now time.Time) (int64, error) {
	return 0, errBoom{}
}

func TestSweeperRun_DisabledReturns(t *testing.T) {
	env := newTestEnv(t)
	s := NewSweeper(env.db, env.rm, env.rm.g, 0, env.sweeper.logger)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper did not return")
	}
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	s := NewSweeper(env.db, env.rm, env.rm.g, time.Millisecond, env.sweeper.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
