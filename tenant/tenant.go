// Package tenant implements the multi-tenant isolation and admission layer
//: quotas, rolling usage counters, and the active-flag gate
// every ingest passes through before a single event reaches the log.
package tenant

import (
	"math"
	"time"

	engine "github.com/eventengine/eventengine"
)

// Quotas bounds what a tenant may consume. A zero value for any field means
// unlimited for that dimension, matching this package's convention of
// treating the Go zero value as "no constraint" rather than "forbidden".
type Quotas struct {
	EventsPerDay   int64
	StorageBytes   int64
	QueriesPerHour int64
	APIKeys        int64
	Projections    int64
	Pipelines      int64
}

// Usage tracks consumption against Quotas. EventsToday and QueriesThisHour
// reset automatically when their window elapses; the remaining counters are
// absolute (not windowed) resource counts.
type Usage struct {
	EventsToday      int64
	DayWindowStart   time.Time
	QueriesThisHour  int64
	HourWindowStart  time.Time
	StorageBytesUsed int64
	APIKeyCount      int64
	ProjectionCount  int64
	PipelineCount    int64
}

// saturatingAdd adds delta to v without wrapping past math.MaxInt64.
func saturatingAdd(v, delta int64) int64 {
	if delta <= 0 {
		return v
	}
	if v > math.MaxInt64-delta {
		return math.MaxInt64
	}
	return v + delta
}

// resetWindows zeroes the windowed counters whose window has elapsed as of
// now, and (re)starts a window that has never been set.
func (u *Usage) resetWindows(now time.Time) {
	if u.DayWindowStart.IsZero() || now.Sub(u.DayWindowStart) >= 24*time.Hour {
		u.DayWindowStart = now
		u.EventsToday = 0
	}
	if u.HourWindowStart.IsZero() || now.Sub(u.HourWindowStart) >= time.Hour {
		u.HourWindowStart = now
		u.QueriesThisHour = 0
	}
}

// Tenant is the isolation unit owning a set of streams, its quotas, and its
// live usage counters.
type Tenant struct {
	ID          engine.TenantId
	Name        string
	Description string
	Quotas      Quotas
	Usage       Usage
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Metadata    engine.Metadata
}

// New returns an active tenant with zeroed usage.
func New(id engine.TenantId, name string, quotas Quotas) *Tenant {
	now := time.Now().UTC()
	return &Tenant{
		ID:        id,
		Name:      name,
		Quotas:    quotas,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AdmitIngest checks that the tenant may accept one more event as of now,
// resetting any elapsed usage windows first. It never mutates usage beyond
// the window reset; the caller records the actual increment only after the
// event durably commits.
func (t *Tenant) AdmitIngest(now time.Time) error {
	if !t.Active {
		return engine.ErrTenantInactive
	}
	t.Usage.resetWindows(now)
	if t.Quotas.EventsPerDay > 0 && t.Usage.EventsToday >= t.Quotas.EventsPerDay {
		return &engine.QuotaExceededError{
			TenantID: t.ID,
			Quota:    "events_per_day",
			Limit:    t.Quotas.EventsPerDay,
			Usage:    t.Usage.EventsToday,
		}
	}
	if t.Quotas.StorageBytes > 0 && t.Usage.StorageBytesUsed >= t.Quotas.StorageBytes {
		return &engine.QuotaExceededError{
			TenantID: t.ID,
			Quota:    "storage_bytes",
			Limit:    t.Quotas.StorageBytes,
			Usage:    t.Usage.StorageBytesUsed,
		}
	}
	return nil
}

// AdmitQuery checks the queries-per-hour quota, resetting elapsed windows.
func (t *Tenant) AdmitQuery(now time.Time) error {
	if !t.Active {
		return engine.ErrTenantInactive
	}
	t.Usage.resetWindows(now)
	if t.Quotas.QueriesPerHour > 0 && t.Usage.QueriesThisHour >= t.Quotas.QueriesPerHour {
		return &engine.QuotaExceededError{
			TenantID: t.ID,
			Quota:    "queries_per_hour",
			Limit:    t.Quotas.QueriesPerHour,
			Usage:    t.Usage.QueriesThisHour,
		}
	}
	return nil
}

// RecordIngest increments committed usage after a successful append.
// eventBytes is the serialized event size added to StorageBytesUsed.
func (t *Tenant) RecordIngest(now time.Time, eventBytes int64) {
	t.Usage.resetWindows(now)
	t.Usage.EventsToday = saturatingAdd(t.Usage.EventsToday, 1)
	t.Usage.StorageBytesUsed = saturatingAdd(t.Usage.StorageBytesUsed, eventBytes)
	t.UpdatedAt = now
}

// RecordQuery increments the query counter after a successful query.
func (t *Tenant) RecordQuery(now time.Time) {
	t.Usage.resetWindows(now)
	t.Usage.QueriesThisHour = saturatingAdd(t.Usage.QueriesThisHour, 1)
	t.UpdatedAt = now
}

// AdmitAPIKey checks the api-keys quota before a new key is minted.
func (t *Tenant) AdmitAPIKey() error {
	if t.Quotas.APIKeys > 0 && t.Usage.APIKeyCount >= t.Quotas.APIKeys {
		return &engine.QuotaExceededError{TenantID: t.ID, Quota: "api_keys", Limit: t.Quotas.APIKeys, Usage: t.Usage.APIKeyCount}
	}
	return nil
}

// AdmitProjection checks the projections quota before a new projection is
// registered.
func (t *Tenant) AdmitProjection() error {
	if t.Quotas.Projections > 0 && t.Usage.ProjectionCount >= t.Quotas.Projections {
		return &engine.QuotaExceededError{TenantID: t.ID, Quota: "projections", Limit: t.Quotas.Projections, Usage: t.Usage.ProjectionCount}
	}
	return nil
}

// AdmitPipeline checks the pipelines quota before a new pipeline is wired.
func (t *Tenant) AdmitPipeline() error {
	if t.Quotas.Pipelines > 0 && t.Usage.PipelineCount >= t.Quotas.Pipelines {
		return &engine.QuotaExceededError{TenantID: t.ID, Quota: "pipelines", Limit: t.Quotas.Pipelines, Usage: t.Usage.PipelineCount}
	}
	return nil
}

// Deactivate flips the active flag off; every subsequent AdmitIngest and
// AdmitQuery call fails with ErrTenantInactive until Activate is called.
func (t *Tenant) Deactivate(now time.Time) {
	t.Active = false
	t.UpdatedAt = now
}

// Activate flips the active flag on.
func (t *Tenant) Activate(now time.Time) {
	t.Active = true
	t.UpdatedAt = now
}
