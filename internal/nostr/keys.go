package nostr

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrInvalidIdentifier is returned for input that is neither npub, nsec nor 64-char hex.
var ErrInvalidIdentifier = errors.New("invalid nostr identifier")

// PubkeyFromIdentifier resolves npub1..., nsec1... or a hex pubkey to a hex pubkey.
// Secret keys are only used to derive the public key and are not retained.
func PubkeyFromIdentifier(identifier string) (string, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return "", ErrInvalidIdentifier
	}

	if strings.HasPrefix(identifier, "npub1") || strings.HasPrefix(identifier, "nsec1") {
		prefix, value, err := nip19.Decode(identifier)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", identifier[:4], err)
		}
		hexKey, ok := value.(string)
		if !ok {
			return "", ErrInvalidIdentifier
		}
		if prefix == "nsec" {
			return PubkeyFromSecret(hexKey)
		}
		return normalizeHexKey(hexKey)
	}

	return normalizeHexKey(identifier)
}

// PubkeyFromSecret derives the x-only public key for a hex secret key.
func PubkeyFromSecret(secretHex string) (string, error) {
	skBytes, err := hex.DecodeString(secretHex)
	if err != nil || len(skBytes) != 32 {
		return "", ErrInvalidIdentifier
	}
	privKey, _ := btcec.PrivKeyFromBytes(skBytes)
	return hex.EncodeToString(schnorr.SerializePubKey(privKey.PubKey())), nil
}

// EncodeNpub returns the bech32 npub for a hex pubkey, or the input unchanged on failure.
func EncodeNpub(pubkey string) string {
	npub, err := nip19.EncodePublicKey(pubkey)
	if err != nil {
		return pubkey
	}
	return npub
}

func normalizeHexKey(s string) (string, error) {
	s = strings.ToLower(s)
	if len(s) != 64 {
		return "", ErrInvalidIdentifier
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", ErrInvalidIdentifier
	}
	return s, nil
}
