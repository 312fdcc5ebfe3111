package handlers

import (
	"encoding/json"
	"strings"
)

// args holds the raw argument object of one RPC call. The typed getters
// mirror the request validation the endpoints need: a failed getter always
// returns an *EndpointError.
type args map[string]json.RawMessage

func (a args) nonEmptyString(name string) (string, error) {
	raw, ok := a[name]
	if !ok {
		return "", errInvalidArgument(name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", errInvalidArgument(name)
	}
	return s, nil
}

func (a args) optionalString(name string) (string, error) {
	raw, ok := a[name]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errInvalidArgument(name)
	}
	return s, nil
}

// optionalKeysMap reads a host→keys argument. Absent means empty.
func (a args) optionalKeysMap(name string) (map[string][]string, error) {
	raw, ok := a[name]
	if !ok {
		return nil, nil
	}
	var m map[string][]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errInvalidArgument(name)
	}
	if err := rejectColonKeys(name, m); err != nil {
		return nil, err
	}
	return m, nil
}

// removalKeysMap reads a keysToRemove argument. Besides the host→keys map
// form it accepts the ["*"] list form meaning "clear all subscriptions",
// reported through clearAll.
func (a args) removalKeysMap(name string) (m map[string][]string, clearAll bool, err error) {
	raw, ok := a[name]
	if !ok {
		return nil, false, nil
	}
	var list []string
	if json.Unmarshal(raw, &list) == nil {
		for _, v := range list {
			if v == "*" {
				return nil, true, nil
			}
		}
		if len(list) == 0 {
			return nil, false, nil
		}
		return nil, false, errInvalidArgument(name)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, errInvalidArgument(name)
	}
	if _, ok := m["*"]; ok {
		return nil, true, nil
	}
	if err := rejectColonKeys(name, m); err != nil {
		return nil, false, err
	}
	return m, false, nil
}

func (a args) stringList(name string) ([]string, error) {
	raw, ok := a[name]
	if !ok {
		return nil, errInvalidArgument(name)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errInvalidArgument(name)
	}
	return list, nil
}

// The reconciler's internal token format reserves the colon, so keys
// containing one are rejected at the API boundary.
func rejectColonKeys(name string, m map[string][]string) error {
	for _, keys := range m {
		for _, key := range keys {
			if strings.Contains(key, ":") {
				return errInvalidArgument(name)
			}
		}
	}
	return nil
}
