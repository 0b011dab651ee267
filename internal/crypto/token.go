// Package crypto verifies the bearer tokens minted by the auth service.
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/hkdf"

	"github.com/goingthrice/bidengine/internal/domain"
)

const (
	keyLen    = 64
	roleClaim = "role"
)

// DeriveKey stretches the shared auth secret into the HS256 signing key with
// HKDF-SHA256. Both the auth service and the engine derive the same key from
// (secret, salt).
func DeriveKey(secret, salt string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("crypto: empty auth secret")
	}
	info := fmt.Sprintf("bidengine access token (%s)", salt)
	kdf := hkdf.New(sha256.New, []byte(secret), []byte(salt), []byte(info))

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	return key, nil
}

// TokenVerifier checks HS256 access tokens and extracts the caller identity.
type TokenVerifier struct {
	key    []byte
	issuer string
	leeway time.Duration
}

// NewTokenVerifier derives the signing key and returns a verifier. An empty
// issuer disables the issuer check.
func NewTokenVerifier(secret, salt, issuer string, leeway time.Duration) (*TokenVerifier, error) {
	key, err := DeriveKey(secret, salt)
	if err != nil {
		return nil, err
	}
	return &TokenVerifier{key: key, issuer: issuer, leeway: leeway}, nil
}

// Verify validates the signature and time claims of raw and returns the
// identity it carries. The subject is the user id; a missing role claim
// defaults to buyer.
func (v *TokenVerifier) Verify(raw string) (domain.Identity, error) {
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256(), v.key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}

	sub, ok := token.Subject()
	if !ok || sub == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	id := domain.Identity{UserID: sub, Role: domain.RoleBuyer}
	var role string
	if err := token.Get(roleClaim, &role); err == nil && role != "" {
		id.Role = domain.Role(role)
	}
	return id, nil
}

// Issue signs a token for id valid for ttl. The engine only verifies tokens in
// production; Issue serves local tooling and tests.
func (v *TokenVerifier) Issue(id domain.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	b := jwt.NewBuilder().
		Subject(id.UserID).
		IssuedAt(now).
		Expiration(now.Add(ttl)).
		Claim(roleClaim, string(id.Role))
	if v.issuer != "" {
		b = b.Issuer(v.issuer)
	}

	token, err := b.Build()
	if err != nil {
		return "", fmt.Errorf("crypto: build token: %w", err)
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), v.key))
	if err != nil {
		return "", fmt.Errorf("crypto: sign token: %w", err)
	}
	return string(signed), nil
}
