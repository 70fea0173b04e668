package engine

import "testing"

type widgetPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	codec := JSONCodec[widgetPayload]()
	encoded, err := codec.Encode(widgetPayload{Name: "bolt", Count: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, ok := decoded.(widgetPayload)
	if !ok {
		t.Fatalf("decoded value has type %T, want widgetPayload", decoded)
	}
	if w.Name != "bolt" || w.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", w)
	}
}

func TestJSONCodecDecodeRejectsMalformedInput(t *testing.T) {
	codec := JSONCodec[widgetPayload]()
	if _, err := codec.Decode([]byte("{not json")); err == nil {
		t.Fatal("expected an error decoding malformed json")
	}
}

func TestCodecRegistryFallsBackToGenericMap(t *testing.T) {
	r := NewCodecRegistry()
	et, err := NewEventType("widget.created")
	if err != nil {
		t.Fatalf("NewEventType: %v", err)
	}
	decoded, err := r.Decode(et, []byte(`{"name":"bolt","count":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded value has type %T, want map[string]any", decoded)
	}
	if m["name"] != "bolt" {
		t.Fatalf("unexpected decoded map: %+v", m)
	}
}

func TestCodecRegistryUsesRegisteredCodec(t *testing.T) {
	r := NewCodecRegistry()
	et, err := NewEventType("widget.created")
	if err != nil {
		t.Fatalf("NewEventType: %v", err)
	}
	r.Register(et, JSONCodec[widgetPayload]())

	decoded, err := r.Decode(et, []byte(`{"name":"bolt","count":3}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	w, ok := decoded.(widgetPayload)
	if !ok {
		t.Fatalf("decoded value has type %T, want widgetPayload", decoded)
	}
	if w.Name != "bolt" || w.Count != 3 {
		t.Fatalf("round trip mismatch: %+v", w)
	}
}
