package wire

import (
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []any{
		nil,
		true,
		false,
		"hello",
		[]byte("bytes"),
		int64(-42),
		3.14159,
		[]any{int64(1), "two", 3.0},
		map[string]any{"type": "chat.message", "text": "hi", "n": int64(7)},
	}

	for _, c := range cases {
		encoded, err := Encode(c)
		if err != nil {
			t.Fatalf("Encode(%v): %v", c, err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%v): %v", c, err)
		}
		if !reflect.DeepEqual(decoded, c) {
			t.Errorf("round trip mismatch: got %#v, want %#v", decoded, c)
		}
	}
}

func TestEncodeNamedMapType(t *testing.T) {
	type Message map[string]any
	m := Message{"type": "x"}

	encoded, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	if got["type"] != "x" {
		t.Errorf("type = %v, want x", got["type"])
	}
}

func TestEncodeUnsupportedType(t *testing.T) {
	type weird struct{}
	if _, err := Encode(weird{}); err == nil {
		t.Fatal("expected error for unsupported type")
	}
}

func TestDecodeTruncated(t *testing.T) {
	if _, err := Decode([]byte{tagStr8, 5, 'h', 'i'}); err == nil {
		t.Fatal("expected truncation error")
	}
}
