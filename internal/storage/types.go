package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process backend (default; state is lost on restart)
//   - "sqlite": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// OpTimeout bounds every store operation. Operations that exceed it
	// fail with action.ErrStoreUnavailable. 0 means the default (5s).
	OpTimeout time.Duration
}

const defaultOpTimeout = 5 * time.Second

func (c Config) opTimeout() time.Duration {
	if c.OpTimeout > 0 {
		return c.OpTimeout
	}
	return defaultOpTimeout
}

// SortOrder is the direction of a sorted listing.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// DefinitionSort enumerates the sortable definition columns. Listings
// reject anything outside this set; sort keys are never taken from raw
// caller input.
type DefinitionSort string

const (
	DefinitionSortCreatedAt DefinitionSort = "created_at"
	DefinitionSortName      DefinitionSort = "name"
	DefinitionSortStartAt   DefinitionSort = "start_at"
)

// DefinitionQuery is the typed filter/sort/page spec for listing
// definitions. Zero values mean "no filter".
type DefinitionQuery struct {
	Active  *bool
	Visible *bool
	GroupID string

	// CreatedAfter/CreatedBefore filter on the record creation time.
	CreatedAfter  time.Time
	CreatedBefore time.Time

	SortBy DefinitionSort
	Order  SortOrder

	// Page is 1-based. PerPage <= 0 means the default (20).
	Page    int
	PerPage int
}

// InstanceSort enumerates the sortable instance columns.
type InstanceSort string

const (
	InstanceSortWindowIndex InstanceSort = "window_index"
	InstanceSortCreatedAt   InstanceSort = "created_at"
)

// InstanceQuery is the typed filter/sort/page spec for listing a
// definition's instances.
type InstanceQuery struct {
	// Completed filters on whether a completion has been recorded.
	Completed *bool

	SortBy InstanceSort
	Order  SortOrder

	Page    int
	PerPage int
}

const defaultPerPage = 20

func pageBounds(page, perPage int) (limit, offset int) {
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	if page <= 0 {
		page = 1
	}
	return perPage, (page - 1) * perPage
}
