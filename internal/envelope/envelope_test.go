package envelope

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		tag   string
		value any
	}{
		{"map value", "w", map[string]any{"i": "user1", "d": float64(1700000000)}},
		{"list value", "q", []any{"a", "b"}},
		{"string value", "w", "hello"},
		{"empty tag", "", map[string]any{"x": "y"}},
		{"value with colons", "q", "a:b:c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := Pack(tt.tag, tt.value)
			assert.Equal(t, err, nil)

			var got any
			err = UnpackInto(packed, tt.tag, &got)
			assert.Equal(t, err, nil)
			assert.Equal(t, got, tt.value)
		})
	}
}

func TestUnpackCorrupt(t *testing.T) {
	_, _, err := Unpack("no delimiter here")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestUnpackIntoTagMismatch(t *testing.T) {
	packed, err := Pack("q", []string{"x"})
	assert.Equal(t, err, nil)

	var got []string
	err = UnpackInto(packed, "w", &got)
	if !errors.Is(err, ErrTagMismatch) {
		t.Fatalf("expected ErrTagMismatch, got %v", err)
	}
}

func TestUnpackKeepsTagAndPayload(t *testing.T) {
	tag, raw, err := Unpack(`w:{"a":1}`)
	assert.Equal(t, err, nil)
	assert.Equal(t, tag, "w")
	assert.Equal(t, string(raw), `{"a":1}`)
}
