package engine

import "testing"

func TestNewEventDefaultsTimestampAndID(t *testing.T) {
	e := NewEvent("account.opened", "acc-1", "t1", nil, nil)
	if e.ID.String() == "" {
		t.Fatal("expected a non-empty generated id")
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected a non-zero timestamp")
	}
	if e.Version != 0 {
		t.Fatalf("version should start at 0 before Stream.Append, got %d", e.Version)
	}
}

func TestEventValidateRejectsMissingFields(t *testing.T) {
	e := NewEvent("account.opened", "acc-1", "t1", nil, nil)
	e.TenantID = ""
	if err := e.Validate(); err == nil {
		t.Fatal("expected validation error for missing tenant id")
	}

	e2 := NewEvent("", "acc-1", "t1", nil, nil)
	if err := e2.Validate(); err == nil {
		t.Fatal("expected validation error for missing event type")
	}
}

func TestNewEventFromStringsDefaultsTenant(t *testing.T) {
	e, err := NewEventFromStrings("account.opened", "acc-1", "", map[string]any{"owner": "Taro"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.TenantID != "default" {
		t.Fatalf("expected tenant fallback to \"default\", got %q", e.TenantID)
	}
}

func TestNewEventFromStringsRejectsInvalidEventType(t *testing.T) {
	if _, err := NewEventFromStrings("Bad Type", "acc-1", "t1", nil, nil); err == nil {
		t.Fatal("expected error for invalid event type")
	}
}

func TestNewEventFromStringsRejectsInvalidEntityID(t *testing.T) {
	if _, err := NewEventFromStrings("account.opened", "", "t1", nil, nil); err == nil {
		t.Fatal("expected error for empty entity id")
	}
}
