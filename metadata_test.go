package engine

import "testing"

func TestMetadataMergeLaterWins(t *testing.T) {
	base := Metadata{"trace_id": "abc", "user_id": "u1"}
	override := Metadata{"user_id": "u2"}
	merged := base.Merge(override)
	if merged["user_id"] != "u2" {
		t.Fatalf("expected later map to win, got %v", merged["user_id"])
	}
	if merged["trace_id"] != "abc" {
		t.Fatalf("expected unrelated key preserved, got %v", merged["trace_id"])
	}
}

func TestMetadataMergeDoesNotMutateReceiver(t *testing.T) {
	base := Metadata{"a": 1}
	_ = base.Merge(Metadata{"a": 2})
	if base["a"] != 1 {
		t.Fatalf("receiver mutated: %v", base["a"])
	}
}

func TestNilMetadataMergeIsSafe(t *testing.T) {
	var m Metadata
	merged := m.Merge(Metadata{"k": "v"})
	if merged["k"] != "v" {
		t.Fatalf("expected merge on nil receiver to still combine, got %v", merged)
	}
}

func TestMetadataRequestID(t *testing.T) {
	m := Metadata{MetadataKeyRequestID: "req-123"}
	id, ok := m.RequestID()
	if !ok || id != "req-123" {
		t.Fatalf("expected request id req-123, got %q ok=%v", id, ok)
	}

	if _, ok := (Metadata{}).RequestID(); ok {
		t.Fatalf("expected no request id on empty metadata")
	}

	if _, ok := (Metadata{MetadataKeyRequestID: 42}).RequestID(); ok {
		t.Fatalf("expected non-string request_id value to report not-ok")
	}
}

func TestMetadataStringValueMissingKey(t *testing.T) {
	var m Metadata
	if _, ok := m.StringValue("absent"); ok {
		t.Fatalf("expected missing key to report not-ok on nil metadata")
	}
}
