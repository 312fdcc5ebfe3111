// Package envelope implements the tagged value encoding used for every
// persisted record. A stored value is "<tag>:<json>"; the tag identifies the
// record kind so a read from the wrong namespace is detected instead of
// silently misinterpreted.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Tags assigned to the record kinds this node persists. The single-letter
// values are part of the stored data format and must not change.
const (
	TagUserRecord   = "w"
	TagObservedKeys = "w"
	TagHostData     = "q"
	TagPushEndpoint = "q"
	TagPushPayload  = ""
)

var (
	// ErrCorrupt means the stored string has no tag delimiter at all.
	ErrCorrupt = errors.New("envelope: missing tag delimiter")
	// ErrTagMismatch means the value decoded fine but carries a tag that
	// does not belong to the record kind the caller expected.
	ErrTagMismatch = errors.New("envelope: unexpected tag")
)

// Pack encodes value as JSON and prefixes it with the tag.
func Pack(tag string, value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return tag + ":" + string(data), nil
}

// Unpack splits a stored string into its tag and raw JSON payload.
func Unpack(s string) (string, json.RawMessage, error) {
	tag, payload, ok := strings.Cut(s, ":")
	if !ok {
		return "", nil, ErrCorrupt
	}
	return tag, json.RawMessage(payload), nil
}

// UnpackInto decodes a stored string whose tag must be wantTag.
func UnpackInto(s, wantTag string, v any) error {
	tag, raw, err := Unpack(s)
	if err != nil {
		return err
	}
	if tag != wantTag {
		return fmt.Errorf("%w: got %q, want %q", ErrTagMismatch, tag, wantTag)
	}
	return json.Unmarshal(raw, v)
}
