package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	engine "github.com/eventengine/eventengine"
)

func parseUUID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("audit: corrupt id %q: %w", s, err)
	}
	return id, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02T15:04:05.000000000Z07:00", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("audit: corrupt timestamp %q: %w", s, err)
	}
	return t, nil
}

func stringTenant(s string) engine.TenantId { return engine.TenantId(s) }

func metadataOf(md map[string]any) engine.Metadata {
	if md == nil {
		return nil
	}
	return engine.Metadata(md)
}
