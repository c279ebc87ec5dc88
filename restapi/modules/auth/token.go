package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ortelius/community-site/model"
)

// DefaultTokenValidity is how long an issued bearer token stays valid
const DefaultTokenValidity = 7 * 24 * time.Hour

// Identity is the verified caller attached to a request
type Identity struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Claims represents JWT claims
type Claims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 bearer tokens with a fixed secret
type TokenIssuer struct {
	secret   []byte
	validity time.Duration
	issuer   string
	now      func() time.Time
}

// NewTokenIssuer copies secret and returns an issuer. A zero validity uses
// DefaultTokenValidity.
func NewTokenIssuer(secret []byte, validity time.Duration, issuer string) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret cannot be empty")
	}
	if validity <= 0 {
		validity = DefaultTokenValidity
	}

	key := make([]byte, len(secret))
	copy(key, secret)

	return &TokenIssuer{
		secret:   key,
		validity: validity,
		issuer:   issuer,
		now:      time.Now,
	}, nil
}

// WithClock returns a copy of the issuer that reads time from now
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	c := *t
	c.now = now
	return &c
}

// Validity returns the lifetime of issued tokens
func (t *TokenIssuer) Validity() time.Duration {
	return t.validity
}

// Issue generates a signed token for the user and returns it with its expiry
func (t *TokenIssuer) Issue(userID string, role model.Role) (string, time.Time, error) {
	if userID == "" || !role.Valid() {
		return "", time.Time{}, fmt.Errorf("cannot issue token for user %q with role %q", userID, role)
	}

	issuedAt := t.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(t.validity)

	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			Issuer:    t.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// Verify validates a token and returns the identity it carries. Failures are
// ErrMalformedToken, ErrBadSignature or ErrExpired.
func (t *TokenIssuer) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	})

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Identity{}, &Error{Kind: KindMalformedToken, Message: ErrMalformedToken.Message, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return Identity{}, &Error{Kind: KindBadSignature, Message: ErrBadSignature.Message, Err: err}
	case errors.Is(err, jwt.ErrTokenExpired):
		return Identity{}, &Error{Kind: KindExpired, Message: ErrExpired.Message, Err: err}
	default:
		return Identity{}, &Error{Kind: KindMalformedToken, Message: ErrMalformedToken.Message, Err: err}
	}

	if !token.Valid || claims.UserID == "" || !claims.Role.Valid() {
		return Identity{}, ErrMalformedToken
	}

	return Identity{UserID: claims.UserID, Role: claims.Role}, nil
}
