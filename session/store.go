package session

import (
	"context"
	"time"
)

type (
	// Store keeps opaque session entries keyed by token.
	//
	// Implementations must be safe for concurrent use. The ttl passed to Set
	// is a hint, the Gate checks expiration on its own so stores are free to
	// keep entries around for longer. A ttl <= 0 means no expiration.
	Store interface {
		Set(ctx context.Context, token string, entry []byte, ttl time.Duration) error
		Get(ctx context.Context, token string) ([]byte, bool, error)
		Delete(ctx context.Context, token string) error
	}
)
