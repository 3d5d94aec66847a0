// Package intent implements verification, policy gating and queueing of
// signed trading intents received from the remote decision service.
package intent

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"filippo.io/edwards25519"
	"github.com/golang-jwt/jwt/v5"

	"clmm-agent/internal/domain"
)

// Verification error kinds. Callers distinguish "intent is invalid" from
// "verifier is unreachable": only the former is treated as rejected input.
var (
	ErrMalformedEnvelope = errors.New("malformed intent envelope")
	ErrBadSignature      = errors.New("intent signature verification failed")
	ErrIntentExpired     = errors.New("intent deadline elapsed")
	ErrKeyUnavailable    = errors.New("signing key unavailable")
	ErrInvalidSigningKey = errors.New("invalid signing key")
)

// KeyFetcher retrieves the remote service's current Ed25519 signing key,
// typically from its JWKS discovery endpoint.
type KeyFetcher interface {
	FetchSigningKey(ctx context.Context) (ed25519.PublicKey, error)
}

// DefaultKeyTTL is how long a discovered signing key is trusted before
// re-fetching.
const DefaultKeyTTL = time.Hour

// KeyCache caches the service signing key with a TTL. A fetch failure while
// a fresh cached key exists is invisible to callers; with no cached key it
// surfaces as ErrKeyUnavailable.
type KeyCache struct {
	fetcher KeyFetcher
	ttl     time.Duration
	now     func() time.Time

	mu        sync.Mutex
	key       ed25519.PublicKey
	fetchedAt time.Time
}

// NewKeyCache creates a key cache with the given TTL (DefaultKeyTTL if zero).
func NewKeyCache(fetcher KeyFetcher, ttl time.Duration) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &KeyCache{fetcher: fetcher, ttl: ttl, now: time.Now}
}

// SigningKey returns the cached key, refreshing it when expired.
func (c *KeyCache) SigningKey(ctx context.Context) (ed25519.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.key != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.key, nil
	}

	key, err := c.fetcher.FetchSigningKey(ctx)
	if err != nil {
		if c.key != nil {
			// Stale key beats no key; the hourly rotation window is advisory.
			return c.key, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if err := validateSigningKey(key); err != nil {
		return nil, err
	}

	c.key = key
	c.fetchedAt = c.now()
	return c.key, nil
}

// validateSigningKey rejects keys that are not valid curve points before
// they enter the cache.
func validateSigningKey(key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSigningKey, len(key))
	}
	if _, err := new(edwards25519.Point).SetBytes(key); err != nil {
		return fmt.Errorf("%w: not on curve", ErrInvalidSigningKey)
	}
	return nil
}

// Verifier authenticates intent envelopes: compact detached-JWS strings of
// three base64url segments whose payload is the SignedIntent.
type Verifier struct {
	keys   *KeyCache
	parser *jwt.Parser
	now    func() time.Time
}

// NewVerifier creates a Verifier backed by the given key cache.
func NewVerifier(keys *KeyCache) *Verifier {
	return &Verifier{
		keys: keys,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"EdDSA"}),
			jwt.WithExpirationRequired(),
		),
		now: time.Now,
	}
}

// intentClaims adapts the SignedIntent payload to the jwt claims interface.
// Only the deadline participates in validation.
type intentClaims struct {
	domain.SignedIntent
}

func (c *intentClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Deadline == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Deadline, 0)), nil
}

func (c *intentClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	if c.Timestamp == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Timestamp, 0)), nil
}

func (c *intentClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c *intentClaims) GetIssuer() (string, error)              { return "", nil }
func (c *intentClaims) GetSubject() (string, error)             { return "", nil }
func (c *intentClaims) GetAudience() (jwt.ClaimStrings, error)  { return nil, nil }

// Verify authenticates an envelope and returns the verified intent.
// No side effect may occur anywhere in the engine before this passes.
func (v *Verifier) Verify(ctx context.Context, envelope string) (*domain.SignedIntent, error) {
	key, err := v.keys.SigningKey(ctx)
	if err != nil {
		return nil, err
	}

	claims := &intentClaims{}
	_, err = v.parser.ParseWithClaims(envelope, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, fmt.Errorf("%w: %v", ErrIntentExpired, err)
		case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
			return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		default:
			return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
		}
	}

	in := claims.SignedIntent
	if in.IntentID == "" {
		return nil, fmt.Errorf("%w: missing intentId", ErrMalformedEnvelope)
	}
	if !in.Action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrMalformedEnvelope, in.Action)
	}
	return &in, nil
}
