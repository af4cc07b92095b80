package feed

import (
	"context"
	"log/slog"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// FollowStatus tells an unknown follow list apart from an empty one
type FollowStatus int

const (
	// FollowsUnknown means no contact list arrived before the load finished
	FollowsUnknown FollowStatus = iota
	// FollowsEmpty means a contact list arrived with no p tags
	FollowsEmpty
	// FollowsPopulated means a contact list arrived with at least one p tag
	FollowsPopulated
)

func (s FollowStatus) String() string {
	switch s {
	case FollowsEmpty:
		return "empty"
	case FollowsPopulated:
		return "populated"
	default:
		return "unknown"
	}
}

func (s FollowStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// FollowList is the result of resolving a contact list.
// Pubkeys is empty unless Status is FollowsPopulated.
type FollowList struct {
	Status  FollowStatus `json:"status"`
	Pubkeys []string     `json:"pubkeys"`
}

// LoadFollows fetches the newest contact list of pubkey from the indexer
// relays and returns its p tags in tag order. Concurrent calls for the same
// pubkey share one relay request.
func (l *Loader) LoadFollows(ctx context.Context, pubkey string) FollowList {
	v, _, _ := l.followsGroup.Do(pubkey, func() (interface{}, error) {
		return l.loadFollows(ctx, pubkey), nil
	})
	return v.(FollowList)
}

func (l *Loader) loadFollows(ctx context.Context, pubkey string) FollowList {
	var newest *types.Event

	l.client.Load(ctx, relay.Request{
		Relays:  l.cfg.IndexerRelays,
		Filters: []types.Filter{{Authors: []string{pubkey}, Kinds: []int{types.KindContactList}}},
		OnEvent: func(evt types.Event) {
			if evt.PubKey != pubkey || evt.Kind != types.KindContactList {
				return
			}
			if newest == nil || evt.CreatedAt > newest.CreatedAt {
				newest = &evt
			}
		},
	})

	if newest == nil {
		slog.Info("no contact list found", "pubkey", nostr.ShortID(pubkey))
		return FollowList{Status: FollowsUnknown, Pubkeys: []string{}}
	}

	pubkeys := util.GetTagValues(newest.Tags, "p")
	if len(pubkeys) == 0 {
		return FollowList{Status: FollowsEmpty, Pubkeys: []string{}}
	}

	slog.Info("resolved follows", "pubkey", nostr.ShortID(pubkey), "count", len(pubkeys))
	return FollowList{Status: FollowsPopulated, Pubkeys: pubkeys}
}
