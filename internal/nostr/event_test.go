package nostr_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/nostrtest"
	"nostr-feed/internal/types"
)

func rawEvent(t *testing.T, v interface{}) interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	var raw interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestParseEventFromInterfaceAcceptsSignedEvent(t *testing.T) {
	evt := nostrtest.Alice.Note("hello <b>world</b> & co", 1700000000)

	parsed, ok := nostr.ParseEventFromInterface(rawEvent(t, evt))
	require.True(t, ok)
	assert.Equal(t, evt.ID, parsed.ID)
	assert.Equal(t, nostrtest.Alice.Pubkey, parsed.PubKey)
	assert.Equal(t, "hello <b>world</b> & co", parsed.Content)
	assert.Equal(t, int64(1700000000), parsed.CreatedAt)
}

func TestComputeEventIDEscapesOnlyQuotesBackslashesAndControls(t *testing.T) {
	pubkey := nostrtest.Alice.Pubkey
	evt := types.Event{
		PubKey:    pubkey,
		CreatedAt: 1700000000,
		Kind:      1,
		Tags:      [][]string{{"t", "x\u2028"}},
		Content:   "a\u2028b\u2029 <&> \"q\" \\ \n\t\x01\xff",
	}

	serialized := "[0,\"" + pubkey + "\",1700000000,1,[[\"t\",\"x\u2028\"]]," +
		"\"a\u2028b\u2029 <&> \\\"q\\\" \\\\ \\n\\t\\u0001\xff\"]"
	want := sha256.Sum256([]byte(serialized))

	assert.Equal(t, hex.EncodeToString(want[:]), nostr.ComputeEventID(&evt))
}

func TestComputeEventIDWithoutTagsHashesEmptyArray(t *testing.T) {
	evt := types.Event{PubKey: nostrtest.Bob.Pubkey, CreatedAt: 1, Kind: 1, Content: "hi"}

	want := sha256.Sum256([]byte("[0,\"" + nostrtest.Bob.Pubkey + "\",1,1,[],\"hi\"]"))
	assert.Equal(t, hex.EncodeToString(want[:]), nostr.ComputeEventID(&evt))
}

func TestParseEventFromInterfaceAcceptsLineSeparators(t *testing.T) {
	evt := nostrtest.Alice.Note("first\u2028second\u2029third", 1700000000)

	parsed, ok := nostr.ParseEventFromInterface(rawEvent(t, evt))
	require.True(t, ok)
	assert.Equal(t, "first\u2028second\u2029third", parsed.Content)
}

func TestParseEventFromInterfaceRejectsTamperedContent(t *testing.T) {
	evt := nostrtest.Alice.Note("original", 1700000000)
	evt.Content = "tampered"

	_, ok := nostr.ParseEventFromInterface(rawEvent(t, evt))
	assert.False(t, ok)
}

func TestParseEventFromInterfaceRejectsForeignSignature(t *testing.T) {
	evt := nostrtest.Alice.Note("hi", 1700000000)
	other := nostrtest.Bob.Note("hi", 1700000000)
	evt.Sig = other.Sig

	_, ok := nostr.ParseEventFromInterface(rawEvent(t, evt))
	assert.False(t, ok)
}

func TestParseEventFromInterfaceRejectsNonObject(t *testing.T) {
	_, ok := nostr.ParseEventFromInterface([]interface{}{"EVENT"})
	assert.False(t, ok)
}

func TestContactListTagsSurviveParsing(t *testing.T) {
	evt := nostrtest.Alice.ContactList(1700000000, nostrtest.Bob.Pubkey, "abc")

	parsed, ok := nostr.ParseEventFromInterface(rawEvent(t, evt))
	require.True(t, ok)
	assert.Equal(t, [][]string{{"p", nostrtest.Bob.Pubkey}, {"p", "abc"}}, parsed.Tags)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abcdefabcdef", nostr.ShortID("abcdefabcdef0123"))
	assert.Equal(t, "abc", nostr.ShortID("abc"))
}
