package engine

import (
	"context"
)

// Metadata carries contextual information that accompanies an ingest call.
// The engine treats most keys as opaque and passes them through to the
// stored Event, but it does read MetadataKeyRequestID below when building
// the audit.Event for that ingest — so a caller's request id
// travels into the audit trail without Store.Ingest needing a dedicated
// parameter for it.
type Metadata map[string]any

// Well-known Metadata keys. Applications remain free to attach any other
// keys. Of these, the engine itself reads only MetadataKeyRequestID; the
// other two are carried through unchanged like any other key.
const (
	// MetadataKeyRequestID identifies the caller's request, mirrored onto
	// the audit.Event recorded for the ingest it accompanies.
	MetadataKeyRequestID = "request_id"
	// MetadataKeyCorrelationID ties an ingest to a wider causal chain
	// (e.g. the command that triggered it); carried through unchanged.
	MetadataKeyCorrelationID = "correlation_id"
	// MetadataKeyActorID names the human or service that initiated the
	// ingest, distinct from the tenant the event belongs to.
	MetadataKeyActorID = "actor_id"
)

// Merge returns a new Metadata that combines the receiver with the given maps.
// It is safe to call on a nil receiver. Later maps take precedence over earlier ones.
// The receiver is not modified.
func (m Metadata) Merge(ms ...Metadata) Metadata {
	out := make(Metadata)

	if m != nil {
		for k, v := range m {
			out[k] = v
		}
	}

	for _, other := range ms {
		for k, v := range other {
			out[k] = v
		}
	}
	return out
}

// StringValue returns key's value as a string, and whether it was present
// and string-typed.
func (m Metadata) StringValue(key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// RequestID returns the value stored under MetadataKeyRequestID, if any.
func (m Metadata) RequestID() (string, bool) { return m.StringValue(MetadataKeyRequestID) }

// MetadataExtractor builds Metadata from a context. Applications supply
// their own extractor that knows about private context keys (request id,
// correlation id, actor id, etc.) so Store.Ingest callers don't have to
// thread them through explicitly on every call.
type MetadataExtractor func(ctx context.Context) Metadata
