package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charterhq/charter/internal/orchestrator/action"
	"github.com/charterhq/charter/internal/orchestrator/backend"
)

func newTestRegistry(t *testing.T, opts Options) (*Registry, *backend.FakeFactory) {
	t.Helper()
	if opts.MaxSessions == 0 {
		opts.MaxSessions = 4
	}
	factory := &backend.FakeFactory{}
	return New(factory, opts), factory
}

func TestCreateAndGet(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()

	s, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID())
	assert.True(t, s.InUse())

	got, err := r.Get(s.ID())
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestGetRefreshesLastUsed(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s, err := r.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	before := s.LastUsed()
	time.Sleep(5 * time.Millisecond)
	_, err = r.Get(s.ID())
	require.NoError(t, err)
	assert.True(t, s.LastUsed().After(before))
}

func TestCreateThenCloseRoundTrip(t *testing.T) {
	r, factory := newTestRegistry(t, Options{})
	ctx := context.Background()

	s, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	closed, err := r.Close(ctx, s.ID())
	require.NoError(t, err)
	assert.True(t, closed)

	_, err = r.Get(s.ID())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	backends := factory.Created()
	require.Len(t, backends, 1)
	assert.True(t, backends[0].Closed())
}

func TestCloseMissingSessionReturnsFalse(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	closed, err := r.Close(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.False(t, closed)
}

func TestCloseRefusedWhileOpsInFlight(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	ctx := context.Background()
	s, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	s.BeginOp()
	closed, err := r.Close(ctx, s.ID())
	assert.False(t, closed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionBusy))

	s.EndOp()
	closed, err = r.Close(ctx, s.ID())
	require.NoError(t, err)
	assert.True(t, closed)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s, err := r.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	require.NoError(t, r.Release(s.ID()))
	assert.False(t, s.InUse())
	require.NoError(t, r.Release(s.ID()))
	assert.False(t, s.InUse())
}

func TestAdmissionSessionLimit(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxSessions: 1})
	ctx := context.Background()

	first, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	_, err = r.Create(ctx, CreateParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))

	// Freeing the slot admits the next create.
	closed, err := r.Close(ctx, first.ID())
	require.NoError(t, err)
	require.True(t, closed)
	_, err = r.Create(ctx, CreateParams{})
	require.NoError(t, err)
}

func TestAdmissionConcurrentCreates(t *testing.T) {
	r, factory := newTestRegistry(t, Options{MaxSessions: 1})
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Create(ctx, CreateParams{})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, exhausted int
	for err := range results {
		if err == nil {
			successes++
		} else if errors.Is(err, ErrResourceExhausted) {
			exhausted++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, exhausted)
	// A rejected create never constructs a backend.
	assert.Len(t, factory.Created(), 1)
}

func TestAdmissionMemoryCeiling(t *testing.T) {
	r, factory := newTestRegistry(t, Options{
		MaxSessions:        10,
		MemoryBudgetBytes:  100,
		MemoryCeilingBytes: 250,
	})
	ctx := context.Background()

	_, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)
	_, err = r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	// Third session would put the estimate at 300 > 250.
	_, err = r.Create(ctx, CreateParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Len(t, factory.Created(), 2)
}

func TestMeasuredMemoryTightensAdmission(t *testing.T) {
	r, _ := newTestRegistry(t, Options{
		MaxSessions:        10,
		MemoryBudgetBytes:  100,
		MemoryCeilingBytes: 1000,
	})
	ctx := context.Background()

	_, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	// Measured usage far above the estimate blocks further admission.
	r.SetMeasuredMemory(950)
	_, err = r.Create(ctx, CreateParams{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResourceExhausted))
	assert.Equal(t, int64(950), r.EstimatedMemory())
}

func TestExtractIdlePicksOldestEligible(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxSessions: 4})
	ctx := context.Background()

	older, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)

	// Nothing eligible while both are in use.
	assert.Nil(t, r.ExtractIdle(0))

	require.NoError(t, r.Release(older.ID()))
	require.NoError(t, r.Release(newer.ID()))
	// Release touches last-used; a long cutoff still finds nothing.
	assert.Nil(t, r.ExtractIdle(time.Hour))

	extracted := r.ExtractIdle(0)
	require.NotNil(t, extracted)
	assert.Equal(t, older.ID(), extracted.ID())

	// Extraction removed it from the map before teardown.
	_, err = r.Get(extracted.ID())
	require.Error(t, err)
	r.Teardown(ctx, extracted)
}

func TestExtractIdleSkipsActiveOps(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxSessions: 2})
	ctx := context.Background()
	s, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)
	require.NoError(t, r.Release(s.ID()))

	s.BeginOp()
	assert.Nil(t, r.ExtractIdle(0))
	s.EndOp()
	assert.NotNil(t, r.ExtractIdle(0))
}

func TestLastUsedMonotonic(t *testing.T) {
	r, _ := newTestRegistry(t, Options{})
	s, err := r.Create(context.Background(), CreateParams{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prev := s.LastUsed()
			for j := 0; j < 100; j++ {
				s.Touch()
				now := s.LastUsed()
				if now.Before(prev) {
					t.Error("last_used went backwards")
					return
				}
				prev = now
			}
		}()
	}
	wg.Wait()
}

func TestListSnapshot(t *testing.T) {
	r, _ := newTestRegistry(t, Options{MaxSessions: 3})
	ctx := context.Background()
	var want []string
	for i := 0; i < 3; i++ {
		s, err := r.Create(ctx, CreateParams{})
		require.NoError(t, err)
		want = append(want, s.ID())
	}
	assert.ElementsMatch(t, want, r.List())
}

func TestDefaultVerificationLevel(t *testing.T) {
	r, _ := newTestRegistry(t, Options{DefaultVerification: action.VerifyStrict})
	ctx := context.Background()

	s, err := r.Create(ctx, CreateParams{})
	require.NoError(t, err)
	assert.Equal(t, action.VerifyStrict, s.DefaultVerification())

	s2, err := r.Create(ctx, CreateParams{Verification: action.VerifyNone, HasLevel: true})
	require.NoError(t, err)
	assert.Equal(t, action.VerifyNone, s2.DefaultVerification())
}
