package models

import (
	"regexp"
	"slices"
	"strings"
)

// HostObserverData is the inverted index stored per observed host. Users is
// an append-only dictionary assigning each user a stable position; Keys maps
// each observed key to the positions of its observers. The short JSON keys
// (u, k) match the stored data format. Key entries are deleted the moment
// their position set becomes empty, so a present key always has at least one
// observer.
type HostObserverData struct {
	Users []string         `json:"u"`
	Keys  map[string][]int `json:"k"`
}

// IsEmpty reports whether no key on this host has any observer left. The
// backing record is deleted in that case.
func (d *HostObserverData) IsEmpty() bool {
	return len(d.Keys) == 0
}

func (d *HostObserverData) userPos(userID string) int {
	return slices.Index(d.Users, userID)
}

// AddUserKey ensures userID has a position and adds it to the key's observer
// set. wasNewKey reports a 0→1 observer transition for the key; changed
// reports whether the record needs persisting.
func (d *HostObserverData) AddUserKey(userID, key string) (wasNewKey, changed bool) {
	pos := d.userPos(userID)
	if pos < 0 {
		d.Users = append(d.Users, userID)
		pos = len(d.Users) - 1
	}
	if d.Keys == nil {
		d.Keys = map[string][]int{}
	}
	positions, ok := d.Keys[key]
	if !ok {
		d.Keys[key] = []int{pos}
		return true, true
	}
	if slices.Contains(positions, pos) {
		return false, false
	}
	d.Keys[key] = append(positions, pos)
	return false, true
}

// RemoveUserKey drops the user's position from the key's observer set,
// deleting the key entry when the set becomes empty. keyNowEmpty reports a
// 1→0 observer transition for the key; changed reports whether the record
// needs persisting.
func (d *HostObserverData) RemoveUserKey(userID, key string) (keyNowEmpty, changed bool) {
	pos := d.userPos(userID)
	if pos < 0 {
		return false, false
	}
	positions, ok := d.Keys[key]
	if !ok {
		return false, false
	}
	i := slices.Index(positions, pos)
	if i < 0 {
		return false, false
	}
	positions = slices.Delete(positions, i, i+1)
	if len(positions) == 0 {
		delete(d.Keys, key)
		return true, true
	}
	d.Keys[key] = positions
	return false, true
}

// UserIDsForKeys resolves the union of observers of the given keys back to
// user ids, each id appearing once no matter how many keys matched it.
func (d *HostObserverData) UserIDsForKeys(keys []string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, key := range keys {
		for _, pos := range d.Keys[key] {
			if pos < 0 || pos >= len(d.Users) {
				continue
			}
			id := d.Users[pos]
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// NormalizeHost trims and lower-cases a caller-supplied hostname.
func NormalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

var hostLabelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// IsValidHost reports whether host is a syntactically valid hostname. The
// input is expected to be normalized already.
func IsValidHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !hostLabelRe.MatchString(label) {
			return false
		}
	}
	return true
}
