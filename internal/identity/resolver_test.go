package identity

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-ops/frontdesk/internal/cache"
	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/remote"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// fakeDirectory serves members from a map and counts calls.
type fakeDirectory struct {
	mu      sync.Mutex
	members map[string]*types.Member
	err     error
	gets    atomic.Int64
	search  atomic.Int64
	gate    chan struct{}
}

func newFakeDirectory(members ...*types.Member) *fakeDirectory {
	d := &fakeDirectory{members: map[string]*types.Member{}}
	for _, m := range members {
		d.members[m.ExternalID] = m
	}
	return d
}

func (d *fakeDirectory) GetByID(ctx context.Context, id string) (*types.Member, error) {
	d.gets.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	m, ok := d.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", types.ErrNotFound, id)
	}
	c := *m
	return &c, nil
}

func (d *fakeDirectory) Search(_ context.Context, query string, limit int) ([]*types.Member, error) {
	d.search.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	var out []*types.Member
	for _, m := range d.members {
		if m.LastName == query || m.FirstName == query {
			c := *m
			out = append(out, &c)
		}
	}
	return out, nil
}

func (d *fakeDirectory) Update(_ context.Context, id string, patch remote.MemberPatch) (*types.Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[id]
	if !ok {
		return nil, fmt.Errorf("%w: member %s", types.ErrNotFound, id)
	}
	if patch.Phone != nil {
		m.Phone = *patch.Phone
	}
	c := *m
	return &c, nil
}

func member(id, first, last string) *types.Member {
	return &types.Member{
		ExternalID:       id,
		FirstName:        first,
		LastName:         last,
		MembershipStatus: types.StatusActive,
	}
}

func openCache(t *testing.T) *cache.DB {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"),
		cache.WithClock(clock.Fake(time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC))))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestResolver(db Cache, d Directory) *Resolver {
	return NewResolver(db, d, Config{Logger: logging.Discard()})
}

func TestResolve_WritesThroughOnCacheMiss(t *testing.T) {
	ctx := context.Background()
	db := openCache(t)
	dir := newFakeDirectory(member("w1", "Grace", "Hopper"))
	r := newTestResolver(db, dir)

	m, err := r.Resolve(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Grace", m.FirstName)
	assert.NotZero(t, m.LocalID)

	cached, err := db.GetMemberByExternalID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "Hopper", cached.LastName)

	// Second lookup is a cache hit.
	_, err = r.Resolve(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dir.gets.Load())
}

func TestResolve_WritesThroughSparseDirectoryRecord(t *testing.T) {
	ctx := context.Background()
	db := openCache(t)
	dir := newFakeDirectory(&types.Member{ExternalID: "w5", Email: "front@example.com"})
	r := newTestResolver(db, dir)

	_, err := r.Resolve(ctx, "w5")
	require.NoError(t, err)

	cached, err := db.GetMemberByExternalID(ctx, "w5")
	require.NoError(t, err)
	assert.Equal(t, "front@example.com", cached.Email)
	assert.Equal(t, types.StatusUnknown, cached.MembershipStatus)
}

func TestResolve_MissingEverywhereIsNotFound(t *testing.T) {
	r := newTestResolver(openCache(t), newFakeDirectory())

	m, err := r.Resolve(context.Background(), "missing")
	assert.Nil(t, m)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestResolve_WithoutDirectory(t *testing.T) {
	r := newTestResolver(openCache(t), nil)

	_, err := r.Resolve(context.Background(), "w1")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = r.Refresh(context.Background(), "w1")
	assert.ErrorIs(t, err, types.ErrConfigurationMissing)
}

func TestResolve_RemoteErrorSurfaces(t *testing.T) {
	dir := newFakeDirectory()
	dir.err = fmt.Errorf("%w: connection refused", types.ErrRemoteUnavailable)
	r := newTestResolver(openCache(t), dir)

	_, err := r.Resolve(context.Background(), "w1")
	assert.ErrorIs(t, err, types.ErrRemoteUnavailable)
}

func TestResolve_ConcurrentCallsShareOneFetch(t *testing.T) {
	dir := newFakeDirectory(member("w1", "Grace", "Hopper"))
	dir.gate = make(chan struct{})
	r := newTestResolver(openCache(t), dir)

	var wg sync.WaitGroup
	results := make([]*types.Member, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := r.Resolve(context.Background(), "w1")
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	// Let the first fetch start before releasing it.
	require.Eventually(t, func() bool { return dir.gets.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	assert.LessOrEqual(t, dir.gets.Load(), int64(4))
	for _, m := range results {
		require.NotNil(t, m)
		assert.Equal(t, "w1", m.ExternalID)
	}
}

func TestResolve_CancelledCallerDoesNotFailOthers(t *testing.T) {
	dir := newFakeDirectory(member("w1", "Grace", "Hopper"))
	dir.gate = make(chan struct{})
	r := newTestResolver(openCache(t), dir)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := r.Resolve(ctxA, "w1")
		errA <- err
	}()
	require.Eventually(t, func() bool { return dir.gets.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		m   *types.Member
		err error
	}
	resB := make(chan result, 1)
	go func() {
		m, err := r.Resolve(context.Background(), "w1")
		resB <- result{m, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(dir.gate)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		assert.Equal(t, "w1", res.m.ExternalID)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int64(1), dir.gets.Load(), "the lookup was shared, not restarted")
}

func TestSearch_LocalHitSkipsRemote(t *testing.T) {
	ctx := context.Background()
	db := openCache(t)
	_, err := db.UpsertMember(ctx, member("w1", "Grace", "Hopper"))
	require.NoError(t, err)
	dir := newFakeDirectory(member("w2", "Dennis", "Hopper"))
	r := newTestResolver(db, dir)

	found, err := r.Search(ctx, "hopper", false)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "w1", found[0].ExternalID)
	assert.Zero(t, dir.search.Load())
}

func TestSearch_LocalOnlyNeverCallsRemote(t *testing.T) {
	dir := newFakeDirectory(member("w2", "Dennis", "Hopper"))
	r := newTestResolver(openCache(t), dir)

	found, err := r.Search(context.Background(), "Hopper", true)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Zero(t, dir.search.Load())
	assert.Zero(t, dir.gets.Load())
}

func TestSearch_RemoteFallbackWritesThrough(t *testing.T) {
	ctx := context.Background()
	db := openCache(t)
	dir := newFakeDirectory(member("w2", "Dennis", "Hopper"), member("w3", "Grace", "Hopper"))
	r := newTestResolver(db, dir)

	found, err := r.Search(ctx, "Hopper", false)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "Dennis", found[0].FirstName)
	assert.Equal(t, "Grace", found[1].FirstName)

	local, err := db.SearchMembers(ctx, "hopper")
	require.NoError(t, err)
	assert.Len(t, local, 2)
}

func TestMerge_RemoteWinsOnCollision(t *testing.T) {
	stale := member("w1", "Grace", "Hopper")
	stale.Email = "old@example.org"
	localOnly := member("", "Walk", "In")
	fresh := member("w1", "Grace", "Hopper")
	fresh.Email = "new@example.org"

	out := merge([]*types.Member{stale, localOnly}, []*types.Member{fresh, member("w2", "Ada", "Lovelace")})
	require.Len(t, out, 3)

	byName := map[string]*types.Member{}
	for _, m := range out {
		byName[m.FullName()] = m
	}
	assert.Equal(t, "new@example.org", byName["Grace Hopper"].Email)
	assert.Contains(t, byName, "Walk In")
	assert.Contains(t, byName, "Ada Lovelace")
}

func TestUpdate_WritesThrough(t *testing.T) {
	ctx := context.Background()
	db := openCache(t)
	dir := newFakeDirectory(member("w1", "Grace", "Hopper"))
	r := newTestResolver(db, dir)

	_, err := r.Resolve(ctx, "w1")
	require.NoError(t, err)

	phone := "555-0199"
	updated, err := r.Update(ctx, "w1", remote.MemberPatch{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.Phone)

	cached, err := db.GetMemberByExternalID(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, phone, cached.Phone)
}
