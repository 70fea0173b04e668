package engine

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// TenantId identifies the isolation unit that owns quotas, usage, and every
// stream and event in the log. TenantId is non-empty, printable, and
// immutable once constructed.
type TenantId string

// NewTenantId validates s and returns a TenantId, or a ValidationError.
func NewTenantId(s string) (TenantId, error) {
	if err := validatePrintable("tenant_id", s, 1, 256); err != nil {
		return "", err
	}
	return TenantId(s), nil
}

func (t TenantId) String() string { return string(t) }

// EntityId identifies the entity a stream belongs to. Non-empty, printable.
type EntityId string

// NewEntityId validates s and returns an EntityId, or a ValidationError.
func NewEntityId(s string) (EntityId, error) {
	if err := validatePrintable("entity_id", s, 1, 256); err != nil {
		return "", err
	}
	return EntityId(s), nil
}

func (e EntityId) String() string { return string(e) }

// EventType is a validated, namespaced event name: 1-128 chars, lowercase
// alphanumerics plus '.' and '_', with no leading, trailing, or consecutive
// dots. The portion before the first dot is the Namespace; the portion
// after the last dot is the Action.
type EventType string

// NewEventType validates s and returns an EventType, or a ValidationError.
func NewEventType(s string) (EventType, error) {
	if len(s) < 1 || len(s) > 128 {
		return "", &ValidationError{Field: "event_type", Reason: "must be 1-128 characters"}
	}
	if strings.HasPrefix(s, ".") || strings.HasSuffix(s, ".") || strings.Contains(s, "..") {
		return "", &ValidationError{Field: "event_type", Reason: "must not have leading, trailing, or consecutive dots"}
	}
	for _, r := range s {
		if unicode.IsLower(r) && unicode.IsLetter(r) {
			continue
		}
		if unicode.IsDigit(r) {
			continue
		}
		if r == '.' || r == '_' {
			continue
		}
		return "", &ValidationError{Field: "event_type", Reason: fmt.Sprintf("invalid character %q", r)}
	}
	return EventType(s), nil
}

// Namespace returns the portion of the event type before the first dot.
// If there is no dot, the entire type is returned.
func (t EventType) Namespace() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Action returns the portion of the event type after the last dot.
// If there is no dot, the entire type is returned.
func (t EventType) Action() string {
	s := string(t)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func (t EventType) String() string { return string(t) }

// PartitionKey is a horizontal shard assignment derived deterministically
// from an EntityId. It is a pure function of the entity id and the
// partition count P chosen at initialization.
type PartitionKey uint64

// PartitionFromEntity computes stable_hash(entityID) mod p, where
// stable_hash is XXH64 (github.com/cespare/xxhash/v2) — a fixed, portable,
// non-cryptographic 64-bit hash whose output is identical across runs,
// platforms, and language implementations of this engine. p must be a
// power of two; callers are expected to validate that invariant once at
// construction (see config.Config.PartitionCount).
func PartitionFromEntity(entityID EntityId, p uint32) PartitionKey {
	if p == 0 {
		p = 1
	}
	h := xxhash.Sum64String(string(entityID))
	return PartitionKey(h % uint64(p))
}

func validatePrintable(field, s string, min, max int) error {
	if len(s) < min || len(s) > max {
		return &ValidationError{Field: field, Reason: fmt.Sprintf("must be %d-%d characters", min, max)}
	}
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return &ValidationError{Field: field, Reason: "must be printable"}
		}
	}
	return nil
}
