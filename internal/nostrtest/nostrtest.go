// Package nostrtest builds signed events for tests.
package nostrtest

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

// Key is a deterministic test keypair.
type Key struct {
	Secret string
	Pubkey string
	priv   *btcec.PrivateKey
}

// NewKey derives a keypair from a 64-char hex secret.
func NewKey(secretHex string) Key {
	skBytes, err := hex.DecodeString(secretHex)
	if err != nil {
		panic(err)
	}
	priv, _ := btcec.PrivKeyFromBytes(skBytes)
	return Key{
		Secret: secretHex,
		Pubkey: hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey())),
		priv:   priv,
	}
}

// Alice and Bob are fixed keys shared by tests across packages.
var (
	Alice = NewKey("edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85")
	Bob   = NewKey("7f7ff03d123792d6ac594bfa67bf6d0c0ab55b6b1fdb6249303fe861f1ccba9a")
)

// Sign fills in pubkey, id and signature for evt.
func (k Key) Sign(evt types.Event) types.Event {
	evt.PubKey = k.Pubkey
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.ID = nostr.ComputeEventID(&evt)
	idBytes, _ := hex.DecodeString(evt.ID)
	sig, err := schnorr.Sign(k.priv, idBytes)
	if err != nil {
		panic(err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return evt
}

// Note returns a signed kind 1 event.
func (k Key) Note(content string, createdAt int64) types.Event {
	return k.Sign(types.Event{Kind: types.KindTextNote, Content: content, CreatedAt: createdAt})
}

// Profile returns a signed kind 0 event with the given JSON content.
func (k Key) Profile(content string, createdAt int64) types.Event {
	return k.Sign(types.Event{Kind: types.KindProfile, Content: content, CreatedAt: createdAt})
}

// ContactList returns a signed kind 3 event following the given pubkeys.
func (k Key) ContactList(createdAt int64, follows ...string) types.Event {
	tags := make([][]string, 0, len(follows))
	for _, pk := range follows {
		tags = append(tags, []string{"p", pk})
	}
	return k.Sign(types.Event{Kind: types.KindContactList, Tags: tags, CreatedAt: createdAt})
}
