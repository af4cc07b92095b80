package nostr

import (
	"encoding/hex"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/minio/sha256-simd"
	gonostr "github.com/nbd-wtf/go-nostr"

	"nostr-feed/internal/types"
)

// ComputeEventID returns the NIP-01 ID: sha256 of [0,pubkey,created_at,kind,tags,content].
// Strings keep their raw bytes; only quotes, backslashes and control
// characters are escaped, as relays and signers hash them.
func ComputeEventID(evt *types.Event) string {
	tags := make(gonostr.Tags, len(evt.Tags))
	for i, tag := range evt.Tags {
		tags[i] = gonostr.Tag(tag)
	}
	wire := gonostr.Event{
		PubKey:    evt.PubKey,
		CreatedAt: gonostr.Timestamp(evt.CreatedAt),
		Kind:      evt.Kind,
		Tags:      tags,
		Content:   evt.Content,
	}

	hash := sha256.Sum256(wire.Serialize())
	return hex.EncodeToString(hash[:])
}

// ValidateEventSignature checks the BIP-340 signature over the event ID
func ValidateEventSignature(evt *types.Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 || len(evt.ID) != 64 {
		return false
	}

	var raw [3][]byte
	for i, field := range []string{evt.Sig, evt.PubKey, evt.ID} {
		b, err := hex.DecodeString(field)
		if err != nil {
			return false
		}
		raw[i] = b
	}

	sig, err := schnorr.ParseSignature(raw[0])
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(raw[1])
	if err != nil {
		return false
	}
	return sig.Verify(raw[2], pubKey)
}

// VerifyEvent checks that the ID matches the content and the signature matches the ID.
func VerifyEvent(evt *types.Event) bool {
	return ComputeEventID(evt) == evt.ID && ValidateEventSignature(evt)
}

// ParseEventFromInterface builds an Event from a decoded relay frame element.
// Fields of the wrong JSON type are left empty, which then fails verification.
// Only events whose ID and signature check out are returned.
func ParseEventFromInterface(data interface{}) (types.Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return types.Event{}, false
	}

	str := func(key string) string {
		s, _ := m[key].(string)
		return s
	}
	num := func(key string) float64 {
		f, _ := m[key].(float64)
		return f
	}

	evt := types.Event{
		ID:        str("id"),
		PubKey:    str("pubkey"),
		CreatedAt: int64(num("created_at")),
		Kind:      int(num("kind")),
		Content:   str("content"),
		Sig:       str("sig"),
		Tags:      parseTags(m["tags"]),
	}
	if evt.ID == "" {
		return types.Event{}, false
	}
	if !VerifyEvent(&evt) {
		slog.Debug("event verification failed", "event_id", ShortID(evt.ID))
		return types.Event{}, false
	}
	return evt, true
}

func parseTags(v interface{}) [][]string {
	rawTags, _ := v.([]interface{})
	tags := make([][]string, 0, len(rawTags))
	for _, rawTag := range rawTags {
		elems, ok := rawTag.([]interface{})
		if !ok {
			continue
		}
		tag := make([]string, 0, len(elems))
		for _, elem := range elems {
			if s, ok := elem.(string); ok {
				tag = append(tag, s)
			}
		}
		tags = append(tags, tag)
	}
	return tags
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
