// Package types provides shared type definitions used across internal packages.
package types

import "encoding/json"

// Event kinds this client reads
const (
	KindProfile     = 0
	KindTextNote    = 1
	KindContactList = 3
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Limit   int
	Since   *int64
	Until   *int64
}

// MarshalJSON encodes the filter as a REQ filter object, omitting empty fields.
func (f Filter) MarshalJSON() ([]byte, error) {
	req := make(map[string]interface{}, 6)
	if len(f.IDs) > 0 {
		req["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		req["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		req["kinds"] = f.Kinds
	}
	if f.Limit > 0 {
		req["limit"] = f.Limit
	}
	if f.Since != nil {
		req["since"] = *f.Since
	}
	if f.Until != nil {
		req["until"] = *f.Until
	}
	return json.Marshal(req)
}

// Matches reports whether evt satisfies the filter's ids, authors, kinds and time bounds.
func (f Filter) Matches(evt Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if k == evt.Kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	return true
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
