// Package identity answers "who is this person" from the local cache,
// falling back to the remote directory and writing its answers through.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/frontdesk-ops/frontdesk/internal/cache"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/remote"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// DefaultSearchLimit caps remote search results.
const DefaultSearchLimit = 25

// DefaultFetchTimeout bounds one shared directory lookup.
const DefaultFetchTimeout = 45 * time.Second

// Cache is the subset of *cache.DB the resolver needs.
type Cache interface {
	GetMemberByExternalID(ctx context.Context, externalID string) (*types.Member, error)
	UpsertMember(ctx context.Context, m *types.Member) (cache.UpsertResult, error)
	SearchMembers(ctx context.Context, term string) ([]*types.Member, error)
}

// Directory is the subset of *remote.Client the resolver needs.
type Directory interface {
	GetByID(ctx context.Context, externalID string) (*types.Member, error)
	Search(ctx context.Context, query string, limit int) ([]*types.Member, error)
	Update(ctx context.Context, externalID string, patch remote.MemberPatch) (*types.Member, error)
}

// Config configures a Resolver.
type Config struct {
	// SearchLimit caps remote search results. Defaults to DefaultSearchLimit.
	SearchLimit int

	// FetchTimeout bounds a directory lookup shared by concurrent
	// resolves of one id. Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration

	Logger *slog.Logger
}

// Resolver looks members up cache-first. Directory may be nil, in which case
// every lookup is local-only.
type Resolver struct {
	cache       Cache
	directory   Directory
	searchLimit  int
	fetchTimeout time.Duration
	logger       *slog.Logger

	// inflight collapses concurrent remote fetches of the same id.
	inflight singleflight.Group
}

// NewResolver creates a Resolver.
func NewResolver(c Cache, d Directory, cfg Config) *Resolver {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Resolver{
		cache:        c,
		directory:    d,
		searchLimit:  cfg.SearchLimit,
		fetchTimeout: cfg.FetchTimeout,
		logger:       logging.Component(cfg.Logger, "identity"),
	}
}

// Resolve returns the member with externalID. A cache hit is returned as
// is; a miss is fetched from the directory and written through. When
// neither has the member the error wraps types.ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, externalID string) (*types.Member, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, fmt.Errorf("%w: empty member id", types.ErrNotFound)
	}

	m, err := r.cache.GetMemberByExternalID(ctx, externalID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, err
	}
	if r.directory == nil {
		return nil, err
	}
	return r.fetch(ctx, externalID)
}

// Refresh re-reads a member from the directory and writes it through,
// bypassing the cache.
func (r *Resolver) Refresh(ctx context.Context, externalID string) (*types.Member, error) {
	if r.directory == nil {
		return nil, fmt.Errorf("%w: no remote directory configured", types.ErrConfigurationMissing)
	}
	return r.fetch(ctx, externalID)
}

// Update applies patch in the directory and writes the result through.
func (r *Resolver) Update(ctx context.Context, externalID string, patch remote.MemberPatch) (*types.Member, error) {
	if r.directory == nil {
		return nil, fmt.Errorf("%w: no remote directory configured", types.ErrConfigurationMissing)
	}
	m, err := r.directory.Update(ctx, externalID, patch)
	if err != nil {
		return nil, err
	}
	return r.writeThrough(ctx, m), nil
}

// fetch reads externalID from the directory once for all concurrent
// callers. The shared lookup is detached from any one caller's
// cancellation and bounded by fetchTimeout; each caller still returns as
// soon as its own ctx is done.
func (r *Resolver) fetch(ctx context.Context, externalID string) (*types.Member, error) {
	ch := r.inflight.DoChan(externalID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.fetchTimeout)
		defer cancel()

		m, err := r.directory.GetByID(fetchCtx, externalID)
		if err != nil {
			return nil, err
		}
		return r.writeThrough(fetchCtx, m), nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		r.logger.Debug("shared remote lookup", "external_id", externalID)
	}
	// Each caller gets its own copy.
	m := *res.Val.(*types.Member)
	return &m, nil
}

// writeThrough stores m in the cache and returns the stored copy. A store
// failure is logged and the directory's copy returned: the lookup itself
// succeeded.
func (r *Resolver) writeThrough(ctx context.Context, m *types.Member) *types.Member {
	res, err := r.cache.UpsertMember(ctx, m)
	if err != nil {
		r.logger.Warn("write-through failed", "external_id", m.ExternalID, "error", err)
		return m
	}
	m.LocalID = res.ID
	r.logger.Debug("member cached", "external_id", m.ExternalID, "local_id", res.ID, "created", res.Created)
	return m
}

// Search looks for term in the cache. When nothing matches locally and
// localOnly is false, the directory is searched, its results written
// through, and the union returned with the directory's copy winning on
// an external id collision.
func (r *Resolver) Search(ctx context.Context, term string, localOnly bool) ([]*types.Member, error) {
	local, err := r.cache.SearchMembers(ctx, term)
	if err != nil {
		return nil, err
	}
	if len(local) > 0 || localOnly || r.directory == nil || strings.TrimSpace(term) == "" {
		return local, nil
	}

	found, err := r.directory.Search(ctx, term, r.searchLimit)
	if err != nil {
		return nil, err
	}
	for i, m := range found {
		found[i] = r.writeThrough(ctx, m)
	}
	return merge(local, found), nil
}

// merge unions local and remote members keyed by external id. Members with
// no external id are local-only and always kept.
func merge(local, fromRemote []*types.Member) []*types.Member {
	byID := make(map[string]*types.Member, len(local)+len(fromRemote))
	var out []*types.Member
	for _, m := range local {
		if m.ExternalID == "" {
			out = append(out, m)
			continue
		}
		byID[m.ExternalID] = m
	}
	for _, m := range fromRemote {
		byID[m.ExternalID] = m
	}
	for _, m := range byID {
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		if out[i].FirstName != out[j].FirstName {
			return out[i].FirstName < out[j].FirstName
		}
		return out[i].ExternalID < out[j].ExternalID
	})
	return out
}
