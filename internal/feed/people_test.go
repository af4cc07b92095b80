package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/types"
)

func note(id, pubkey string, createdAt int64) types.Event {
	return types.Event{ID: id, PubKey: pubkey, CreatedAt: createdAt, Kind: types.KindTextNote, Content: "note " + id}
}

func profile(pubkey, content string) types.Event {
	return types.Event{ID: "profile-" + pubkey, PubKey: pubkey, Kind: types.KindProfile, Content: content}
}

func TestMergeProfilesReplaysIdempotently(t *testing.T) {
	people := NewPeople()
	evt := profile("a", `{"name":"alice","about":"hi"}`)

	people.MergeProfiles([]types.Event{evt})
	first, ok := people.Get("a")
	require.True(t, ok)

	people.MergeProfiles([]types.Event{evt})
	second, _ := people.Get("a")

	assert.Equal(t, first.Profile, second.Profile)
	assert.Equal(t, "alice", second.DisplayName())
}

func TestMergeProfilesReplacesWholesale(t *testing.T) {
	people := NewPeople()
	people.MergeProfiles([]types.Event{profile("a", `{"name":"alice","about":"hi"}`)})
	people.MergeProfiles([]types.Event{profile("a", `{"name":"alice2"}`)})

	person, _ := people.Get("a")
	assert.Equal(t, map[string]interface{}{"name": "alice2"}, person.Profile)
}

func TestMergeProfilesDropsOnlyBadEvents(t *testing.T) {
	people := NewPeople()
	people.MergeProfiles([]types.Event{
		profile("a", `not json`),
		profile("b", `{"name":"bob"}`),
		profile("c", `null`),
		profile("d", `["array"]`),
	})

	assert.False(t, people.HasProfile("a"))
	assert.True(t, people.HasProfile("b"))
	assert.Equal(t, 1, people.Len(), "no person is created for dropped profiles")
}

func TestMergeNotesKeepsDuplicates(t *testing.T) {
	people := NewPeople()
	evt := note("1", "a", 100)

	people.MergeNotes([]types.Event{evt})
	people.MergeNotes([]types.Event{evt})

	person, _ := people.Get("a")
	assert.Len(t, person.Events, 2)
	assert.Equal(t, 1, people.NoteCount())
}

func TestMergeNotesTracksLastPostAndArrivalOrder(t *testing.T) {
	people := NewPeople()
	people.MergeNotes([]types.Event{note("2", "a", 200), note("1", "a", 100), note("3", "a", 300)})
	people.MergeNotes([]types.Event{note("0", "a", 50)})

	person, _ := people.Get("a")
	require.NotNil(t, person.LastPost)
	assert.Equal(t, "3", person.LastPost.ID)

	var ids []string
	for _, evt := range person.Events {
		ids = append(ids, evt.ID)
	}
	assert.Equal(t, []string{"2", "1", "3", "0"}, ids)
}

func TestMergeKeepsProfileAndNotesTogether(t *testing.T) {
	people := NewPeople()
	people.MergeNotes([]types.Event{note("1", "a", 100)})
	people.MergeProfiles([]types.Event{profile("a", `{"name":"alice"}`)})

	person, _ := people.Get("a")
	assert.Len(t, person.Events, 1)
	assert.True(t, person.HasProfile())
}

func TestTimelineIsNewestFirstAndLimited(t *testing.T) {
	people := NewPeople()
	people.MergeNotes([]types.Event{note("a1", "a", 100), note("b1", "b", 300), note("a2", "a", 200), note("b1", "b", 300)})

	var ids []string
	for _, evt := range people.Timeline(0) {
		ids = append(ids, evt.ID)
	}
	assert.Equal(t, []string{"b1", "a2", "a1"}, ids)
	assert.Len(t, people.Timeline(2), 2)
}

func TestPeopleRevisionNotifiesPerBatch(t *testing.T) {
	people := NewPeople()
	var revisions []uint64
	unsubscribe := people.Subscribe(func(rev uint64) { revisions = append(revisions, rev) })
	defer unsubscribe()

	people.MergeNotes([]types.Event{note("1", "a", 1), note("2", "b", 2)})
	people.MergeNotes(nil)
	people.MergeProfiles([]types.Event{profile("a", `bad`)})
	people.MergeProfiles([]types.Event{profile("a", `{}`)})

	assert.Equal(t, []uint64{0, 1, 2}, revisions)
	assert.Equal(t, uint64(2), people.Revision())
}
