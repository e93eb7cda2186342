package middleware

import "context"

type contextKey struct{ name string }

var (
	accountIDKey    = contextKey{"account_id"}
	sessionTokenKey = contextKey{"session_token"}
	sessionKeyKey   = contextKey{"session_key"}
)

// WithPrincipal returns a context carrying the signed-in account, its session token and the
// server session key. Set by RequireSession after the guard allows the request.
func WithPrincipal(ctx context.Context, accountID, sessionToken, sessionKey string) context.Context {
	ctx = context.WithValue(ctx, accountIDKey, accountID)
	ctx = context.WithValue(ctx, sessionTokenKey, sessionToken)
	ctx = context.WithValue(ctx, sessionKeyKey, sessionKey)
	return ctx
}

// GetAccountID returns the account_id from context and true if set; otherwise "", false.
func GetAccountID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(accountIDKey).(string)
	return v, ok
}

// GetSessionToken returns the session token from context and true if set; otherwise "", false.
func GetSessionToken(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionTokenKey).(string)
	return v, ok
}

// GetSessionKey returns the server session key from context and true if set; otherwise "", false.
func GetSessionKey(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(sessionKeyKey).(string)
	return v, ok
}
