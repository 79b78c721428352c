package token

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoAccessToken is returned when a token payload carries no access token in
// any known shape.
var ErrNoAccessToken = errors.New("token: payload missing access token")

// payload covers every historical login/refresh response shape. The backend has
// shipped three of these over time; all must map to the same Record.
type payload struct {
	Tokens *struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	} `json:"tokens"`
	JWTToken     string `json:"jwtToken"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Normalize parses a raw login/refresh response body into a Record. Shapes are
// tried in order: {tokens:{accessToken,...}}, {jwtToken}, {access_token,...}.
// When the payload has no expiresIn, the expiry is best-effort extracted from
// the JWT exp claim (unverified parse; the client never checks signatures).
func Normalize(raw []byte, now time.Time) (Record, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Record{}, err
	}

	var rec Record
	var expiresIn int64
	switch {
	case p.Tokens != nil && p.Tokens.AccessToken != "":
		rec.AccessToken = p.Tokens.AccessToken
		rec.RefreshToken = p.Tokens.RefreshToken
		expiresIn = p.Tokens.ExpiresIn
	case p.JWTToken != "":
		rec.AccessToken = p.JWTToken
	case p.AccessToken != "":
		rec.AccessToken = p.AccessToken
		rec.RefreshToken = p.RefreshToken
		expiresIn = p.ExpiresIn
	default:
		return Record{}, ErrNoAccessToken
	}

	if expiresIn > 0 {
		rec.ExpiresAt = now.UnixMilli() + expiresIn*1000
	} else {
		rec.ExpiresAt = jwtExpiryMillis(rec.AccessToken)
	}
	return rec, nil
}

// Subject returns the sub claim of a JWT, or "" when the token is not a
// parseable JWT. Unverified; used only to recover the user id from legacy
// login responses that omit the user object.
func Subject(tokenString string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return ""
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// Roles returns the roles claim of a JWT ("roles", falling back to the Spring
// "authorities" claim), or nil. Unverified; the backend remains authoritative
// for authorization.
func Roles(tokenString string) []string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil
	}
	for _, key := range []string{"roles", "authorities"} {
		raw, ok := claims[key].([]interface{})
		if !ok {
			continue
		}
		out := make([]string, 0, len(raw))
		for _, r := range raw {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// jwtExpiryMillis returns the exp claim of a JWT in epoch milliseconds, or 0
// when the token is not a parseable JWT or carries no exp.
func jwtExpiryMillis(tokenString string) int64 {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return 0
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0
	}
	return exp.UnixMilli()
}
