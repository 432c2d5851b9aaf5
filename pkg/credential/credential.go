// Package credential issues the short-lived signed tokens the service presents
// as its broker password.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/terraformation/device-ingest/pkg/clock"
)

const (
	// Issuer is the iss claim of every credential.
	Issuer = "terraware-server"

	// Lifetime is how long a credential stays valid after issuance.
	Lifetime = 120 * time.Second
)

// ErrMissingSecret is returned when no signing secret is configured.
var ErrMissingSecret = errors.New("credential: signing secret is not configured")

// Claims is the claim set of a broker credential. The same filter is granted
// for both subscribing and publishing.
type Claims struct {
	SubscribableTopics []string `json:"subscribableTopics"`
	PublishableTopics  []string `json:"publishableTopics"`
	jwt.RegisteredClaims
}

// TokenIssuer issues broker credentials signed with a shared HMAC secret.
type TokenIssuer struct {
	secret []byte
	clock  clock.Clock
	newID  func() string
}

type Option func(i *TokenIssuer)

// WithClock returns an Option which set the clock used for iat, nbf and exp.
func WithClock(c clock.Clock) Option {
	return func(i *TokenIssuer) {
		i.clock = c
	}
}

// NewIssuer creates a TokenIssuer signing with secret.
func NewIssuer(secret string, opts ...Option) *TokenIssuer {
	i := &TokenIssuer{
		secret: []byte(secret),
		clock:  clock.Real(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue returns a compact HS256 token authorizing subject to publish and
// subscribe under topicFilter for the next two minutes.
func (i *TokenIssuer) Issue(subject, topicFilter string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrMissingSecret
	}

	now := i.clock.Now()
	topics := []string{topicFilter}
	claims := Claims{
		SubscribableTopics: topics,
		PublishableTopics:  topics,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(Lifetime)),
			ID:        i.newID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("signing broker credential: %w", err)
	}
	return signed, nil
}
