// Package sessionstore is the server-side session store: an idle-expiring binding from a
// request's session key (cookie) to the session token minted at login.
package sessionstore

import (
	"context"
	"time"
)

// Store binds session keys to tokens with sliding idle expiry.
type Store interface {
	// Set binds key to token; the entry expires after idle without a Get.
	Set(ctx context.Context, key, token string, idle time.Duration) error
	// Get returns the live token for key and slides its expiry. ok is false when absent or expired.
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	// Clear removes the entry for key. Clearing a missing key is not an error.
	Clear(ctx context.Context, key string) error
}
