package credentials

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

const registrationTokenType = "ocn_registration"

// generateRegistrationToken creates the token A handed to a party that is
// allowed to register the given roles.
func generateRegistrationToken(roles []ocpi.Role, issuer string, ttl time.Duration, now time.Time, secret []byte) (string, error) {
	keys := make([]string, len(roles))
	for i, r := range roles {
		keys[i] = r.Key()
	}
	claims := jwt.MapClaims{
		"type":  registrationTokenType,
		"roles": keys,
		"iss":   issuer,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// validateRegistrationToken parses a token A and returns the role keys it
// was issued for.
func validateRegistrationToken(tokenString string, secret []byte, now time.Time) ([]string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims["type"] != registrationTokenType {
		return nil, fmt.Errorf("invalid token type")
	}
	raw, ok := claims["roles"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("token carries no roles")
	}
	keys := make([]string, 0, len(raw))
	for _, r := range raw {
		s, ok := r.(string)
		if !ok {
			return nil, fmt.Errorf("malformed role claim")
		}
		keys = append(keys, s)
	}
	return keys, nil
}
