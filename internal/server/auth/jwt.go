// Package auth issues and verifies the bearer JWTs that identify owners and
// accessors. Whether an accessor is a verified professional is a claim signed
// into the token, never something a request body can assert.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/capsulekeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carries the standard claims plus the caller's id and verification flag.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string `json:"uid"`
	Verified bool   `json:"verified,omitempty"`
}

// Identity is what the HTTP layer learns from a valid token.
type Identity struct {
	UserID   string
	Verified bool
}

func GenerateToken(userID string, verified bool, secretKey []byte, validityDuration time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validityDuration)),
		},
		UserID:   userID,
		Verified: verified,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ParseToken validates tokenString. Expired tokens yield common.ErrTokenExpired;
// anything else that fails validation yields common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte) (*Identity, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}

	return &Identity{UserID: claims.UserID, Verified: claims.Verified}, nil
}
