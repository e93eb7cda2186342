package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a claim token is malformed, expired or signed by another key.
var ErrInvalidToken = errors.New("invalid token")

// SessionClaims is the signed form of a session claim: the account it names and the
// session token minted at login. The token is compared against server state on every request.
type SessionClaims struct {
	jwt.RegisteredClaims
	SessionToken string `json:"sid"`
}

// TokenProvider signs and validates session claim JWTs using RS256 or ES256.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	issuer     string
	audience   string
	ttl        time.Duration
	now        func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with privateKey and verifies with publicKey.
// ttl is the claim lifetime; callers re-issue on activity for sliding expiry.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
		now:        time.Now,
	}
}

// TTL returns the claim lifetime.
func (p *TokenProvider) TTL() time.Duration { return p.ttl }

// Issue signs a claim binding accountID to sessionToken. Returns the token and its expiry.
func (p *TokenProvider) Issue(accountID, sessionToken string) (string, time.Time, error) {
	if accountID == "" || sessionToken == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := p.now().UTC()
	expiresAt := now.Add(p.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   accountID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		SessionToken: sessionToken,
	}
	token, err := p.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	return jwt.NewWithClaims(method, claims).SignedString(p.privateKey)
}

// Validate parses tokenString (signature, exp, iss, aud) and returns the account id and session token.
func (p *TokenProvider) Validate(tokenString string) (accountID, sessionToken string, err error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
			return p.publicKey, nil
		}
		return nil, ErrInvalidToken
	},
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Subject == "" || claims.SessionToken == "" {
		return "", "", ErrInvalidToken
	}
	if !slices.Contains(claims.Audience, p.audience) {
		return "", "", ErrInvalidToken
	}
	return claims.Subject, claims.SessionToken, nil
}
