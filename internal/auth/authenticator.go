// Package auth obtains the user's public key and keeps the session state in
// step with it.
package auth

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"nostr-feed/internal/nostr"
)

// Result is the outcome of one login attempt. An empty Pubkey means the
// user cancelled or no key could be obtained.
type Result struct {
	Pubkey string
}

// Authenticator is an external login mechanism
type Authenticator interface {
	// Launch starts a login and delivers exactly one Result
	Launch(ctx context.Context) <-chan Result
	Logout()
}

// Static logs in with a fixed npub, nsec or hex public key.
// Secret keys are only used to derive the public key and are not kept.
type Static struct {
	Identifier string
}

func (s Static) Launch(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	pubkey, err := nostr.PubkeyFromIdentifier(s.Identifier)
	if err != nil {
		slog.Warn("login identifier rejected", "error", err)
	}
	ch <- Result{Pubkey: pubkey}
	close(ch)
	return ch
}

func (Static) Logout() {}

const promptAttempts = 3

// Prompt asks for an identifier on a terminal. An empty line or end of
// input cancels.
type Prompt struct {
	out io.Writer

	mu sync.Mutex // one prompt at a time on the shared reader
	in *bufio.Reader
}

// NewPrompt creates a prompt reading from in and writing to out
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out}
}

// Launch reads from the terminal in the background. A read still blocked
// when ctx ends finishes with the next line of input.
func (p *Prompt) Launch(ctx context.Context) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- Result{Pubkey: p.read(ctx)}
	}()
	return ch
}

func (p *Prompt) read(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for attempt := 0; attempt < promptAttempts; attempt++ {
		if ctx.Err() != nil {
			return ""
		}
		fmt.Fprint(p.out, "npub, nsec or hex public key (empty to cancel): ")

		line, err := p.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			if err != nil && !errors.Is(err, io.EOF) {
				slog.Debug("prompt read failed", "error", err)
			}
			return ""
		}

		pubkey, perr := nostr.PubkeyFromIdentifier(line)
		if perr == nil {
			return pubkey
		}
		fmt.Fprintf(p.out, "%v\n", perr)
		if err != nil {
			return ""
		}
	}
	return ""
}

// Logout is a no-op; a prompt holds nothing between logins.
func (p *Prompt) Logout() {}
