// Package feed resolves follows and loads their profiles and notes into a
// shared people map.
package feed

import (
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/puzpuzpuz/xsync/v2"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/store"
	"nostr-feed/internal/types"
)

// People maps pubkey to Person. Entries are created on the first note or
// profile merged for a pubkey and are only ever appended to or replaced.
type People struct {
	m        *xsync.MapOf[string, types.Person]
	revision *store.Value[uint64]
}

// NewPeople creates an empty people map
func NewPeople() *People {
	return &People{
		m:        xsync.NewMapOf[types.Person](),
		revision: store.NewValue[uint64](0),
	}
}

// Get returns the person for pubkey
func (p *People) Get(pubkey string) (types.Person, bool) {
	return p.m.Load(pubkey)
}

// HasProfile reports whether profile metadata has been merged for pubkey
func (p *People) HasProfile(pubkey string) bool {
	person, ok := p.m.Load(pubkey)
	return ok && person.HasProfile()
}

// Len returns the number of people
func (p *People) Len() int {
	return p.m.Size()
}

// Revision increases by one for every merged batch that changed the map
func (p *People) Revision() uint64 {
	return p.revision.Get()
}

// Subscribe calls fn with the current revision and after each change
func (p *People) Subscribe(fn func(revision uint64)) func() {
	return p.revision.Subscribe(fn)
}

// MergeProfiles replaces each author's profile with the JSON object in the
// event content. Events whose content is not a JSON object are dropped.
func (p *People) MergeProfiles(events []types.Event) {
	merged := 0
	for _, evt := range events {
		var profile map[string]interface{}
		if err := json.Unmarshal([]byte(evt.Content), &profile); err != nil || profile == nil {
			slog.Debug("dropping unparseable profile", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
			continue
		}

		p.m.Compute(evt.PubKey, func(person types.Person, loaded bool) (types.Person, bool) {
			if !loaded {
				person = types.Person{Pubkey: evt.PubKey}
			}
			person.Profile = profile
			return person, false
		})
		merged++
	}
	if merged > 0 {
		p.bump()
	}
}

// MergeNotes appends each event to its author's events. There is no
// deduplication: an event delivered twice is stored twice.
func (p *People) MergeNotes(events []types.Event) {
	for _, evt := range events {
		p.m.Compute(evt.PubKey, func(person types.Person, loaded bool) (types.Person, bool) {
			if !loaded {
				person = types.Person{Pubkey: evt.PubKey}
			}
			person.Events = append(person.Events, evt)
			if person.LastPost == nil || evt.CreatedAt > person.LastPost.CreatedAt {
				person.LastPost = &evt
			}
			return person, false
		})
	}
	if len(events) > 0 {
		p.bump()
	}
}

func (p *People) bump() {
	p.revision.Update(func(rev uint64) uint64 { return rev + 1 })
}

// Timeline returns notes from everyone, newest first, each event ID once.
// limit <= 0 returns all of them.
func (p *People) Timeline(limit int) []types.Event {
	seen := make(map[string]bool)
	var events []types.Event
	p.m.Range(func(_ string, person types.Person) bool {
		for _, evt := range person.Events {
			if seen[evt.ID] {
				continue
			}
			seen[evt.ID] = true
			events = append(events, evt)
		}
		return true
	})

	// Sort by created_at DESC, then by ID DESC for tie-break
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt > events[j].CreatedAt
		}
		return events[i].ID > events[j].ID
	})

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// NoteCount returns the number of distinct notes loaded
func (p *People) NoteCount() int {
	return len(p.Timeline(0))
}
