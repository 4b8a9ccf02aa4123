// Package tokens mints and validates the short-lived, pet-scoped read
// tokens granting delegated access to a pet's signed medical history.
//
// Tokens are compact HS256 JWTs signed with a server-held symmetric
// secret. Lifetime is capped at seven days; longer requests are clamped
// with a warning.
package tokens

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmhodges/clock"

	pcerrors "github.com/i-bosquet/petconnect/errors"
	blog "github.com/i-bosquet/petconnect/log"
)

// Subject is the fixed sub claim of delegated access tokens.
const Subject = "pet-records"

// MaxLifetime caps the validity window of a delegated access token.
const MaxLifetime = 7 * 24 * time.Hour

type petClaims struct {
	PetID int64 `json:"petId"`
	jwt.RegisteredClaims
}

// Minter mints and validates delegated access tokens against a single
// symmetric secret.
type Minter struct {
	secret []byte
	clk    clock.Clock
	log    blog.Logger
}

// NewMinter constructs a Minter. The secret must never appear in error
// messages or logs.
func NewMinter(secret []byte, clk clock.Clock, logger blog.Logger) *Minter {
	return &Minter{
		secret: secret,
		clk:    clk,
		log:    logger,
	}
}

// Mint creates a token granting read access to the signed records of one
// pet for the given duration, clamped to MaxLifetime.
func (m *Minter) Mint(petID int64, duration time.Duration) (string, error) {
	if duration > MaxLifetime {
		m.log.Warning(fmt.Sprintf("delegated token duration %s for pet %d exceeds cap, clamping to %s", duration, petID, MaxLifetime))
		duration = MaxLifetime
	}
	now := m.clk.Now()
	claims := petClaims{
		PetID: petID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", pcerrors.InternalServerError("minting delegated access token failed")
	}
	return signed, nil
}

// Validate parses and verifies a token, returning the pet id it grants
// access to. Every failure mode collapses into InvalidTemporaryToken;
// details are logged internally and the secret is never echoed.
func (m *Minter) Validate(tokenString string) (int64, error) {
	var claims petClaims
	token, err := jwt.ParseWithClaims(
		tokenString,
		&claims,
		func(t *jwt.Token) (interface{}, error) {
			return m.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.clk.Now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil || !token.Valid {
		m.log.Info(fmt.Sprintf("rejected delegated access token: %s", err))
		return 0, pcerrors.InvalidTemporaryTokenError()
	}
	if claims.Subject != Subject || claims.PetID <= 0 {
		m.log.Info("rejected delegated access token: wrong subject or missing pet id")
		return 0, pcerrors.InvalidTemporaryTokenError()
	}
	return claims.PetID, nil
}
