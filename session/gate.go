// Package session keeps track of who logged in.
//
// A successful login gets a random token, the token is the only thing the
// client holds. The Gate maps tokens to identities using a Store; nothing
// about the user is encoded in the token itself, so ending a session is just
// removing it from the store.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/andrebq/doorman/internal/logutil"
)

type (
	Token string

	Identity struct {
		UserID     int64     `json:"user_id"`
		Identifier string    `json:"identifier"`
		IssuedAt   time.Time `json:"issued_at"`
		// ExpiresAt is zero when sessions never expire
		ExpiresAt time.Time `json:"expires_at"`
	}

	Gate struct {
		store Store
		ttl   time.Duration
		now   func() time.Time
		rand  io.Reader
	}

	Unauthenticated struct{}
)

const (
	DefaultTTL = 12 * time.Hour

	// 256 bits
	tokenBytes = 32
)

func (Unauthenticated) Error() string {
	return "missing or invalid session"
}

// NewGate returns a Gate that keeps sessions in store for ttl.
// ttl <= 0 means sessions live until logout (or until the store forgets them).
func NewGate(store Store, ttl time.Duration) *Gate {
	return &Gate{
		store: store,
		ttl:   ttl,
		now:   time.Now,
		rand:  rand.Reader,
	}
}

func (g *Gate) TTL() time.Duration {
	return g.ttl
}

// Start a new session for the given user, every call returns a new token
// even for the same user.
func (g *Gate) Start(ctx context.Context, userID int64, identifier string) (Token, Identity, error) {
	tk, err := g.newToken()
	if err != nil {
		return "", Identity{}, fmt.Errorf("unable to generate session token, cause %w", err)
	}
	now := g.now().UTC()
	id := Identity{
		UserID:     userID,
		Identifier: identifier,
		IssuedAt:   now,
	}
	if g.ttl > 0 {
		id.ExpiresAt = now.Add(g.ttl)
	}
	buf, err := json.Marshal(id)
	if err != nil {
		return "", Identity{}, fmt.Errorf("unable to encode session, cause %w", err)
	}
	err = g.store.Set(ctx, string(tk), buf, g.ttl)
	if err != nil {
		return "", Identity{}, fmt.Errorf("unable to save session, cause %w", err)
	}
	return tk, id, nil
}

// End removes the session, ending a session that does not exist is not an error.
func (g *Gate) End(ctx context.Context, tk Token) error {
	if len(tk) == 0 {
		return nil
	}
	err := g.store.Delete(ctx, string(tk))
	if err != nil {
		return fmt.Errorf("unable to remove session, cause %w", err)
	}
	return nil
}

// Lookup returns the identity bound to tk, if the session exists and
// has not expired.
func (g *Gate) Lookup(ctx context.Context, tk Token) (Identity, bool, error) {
	if len(tk) == 0 {
		return Identity{}, false, nil
	}
	buf, found, err := g.store.Get(ctx, string(tk))
	if err != nil {
		return Identity{}, false, fmt.Errorf("unable to read session, cause %w", err)
	} else if !found {
		return Identity{}, false, nil
	}
	var id Identity
	err = json.Unmarshal(buf, &id)
	if err != nil {
		// garbage is as good as nothing, get rid of it
		g.purge(ctx, tk, "unreadable")
		return Identity{}, false, nil
	}
	if !id.ExpiresAt.IsZero() && !g.now().Before(id.ExpiresAt) {
		g.purge(ctx, tk, "expired")
		return Identity{}, false, nil
	}
	return id, true, nil
}

// purge removes a session that can no longer be used, failing to do so
// does not change the answer given to the caller.
func (g *Gate) purge(ctx context.Context, tk Token, reason string) {
	err := g.store.Delete(ctx, string(tk))
	if err != nil {
		log := logutil.GetOrDefault(ctx)
		log.Warn().Err(err).Str("reason", reason).Msg("Unable to purge session")
	}
}

// Require is like Lookup but returns Unauthenticated when no session is found
func (g *Gate) Require(ctx context.Context, tk Token) (Identity, error) {
	id, found, err := g.Lookup(ctx, tk)
	if err != nil {
		return Identity{}, err
	} else if !found {
		return Identity{}, Unauthenticated{}
	}
	return id, nil
}

func (g *Gate) newToken() (Token, error) {
	var buf [tokenBytes]byte
	_, err := io.ReadFull(g.rand, buf[:])
	if err != nil {
		return "", err
	}
	return Token(base64.RawURLEncoding.EncodeToString(buf[:])), nil
}
