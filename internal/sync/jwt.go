package sync

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/amaydixit11/mindoo/internal/errkind"
)

// TokenTTL is how long an issued JWT remains valid.
const TokenTTL = time.Hour

// claims is the JWT payload issued by authenticate, per spec.md §4.7:
// "{sub: username, exp}".
type claims struct {
	jwt.RegisteredClaims
}

func issueToken(secret []byte, username string) (string, error) {
	now := time.Now()
	c := claims{jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", errkind.Wrap(errkind.ServerError, "sign jwt", err)
	}
	return signed, nil
}

func parseToken(secret []byte, tokenStr string) (string, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", errkind.Wrap(errkind.InvalidToken, "parse jwt", err)
	}
	if c.Subject == "" {
		return "", errkind.New(errkind.InvalidToken, "jwt missing subject")
	}
	return c.Subject, nil
}
