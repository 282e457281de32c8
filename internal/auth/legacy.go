package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is set on tokens signed by HMACVerifier.Issue.
const Issuer = "mediapipe-api"

// LegacyClaims represents legacy JWT claims (HMAC-signed tokens)
type LegacyClaims struct {
	UserID     string   `json:"userId"`
	Email      string   `json:"email"`
	Workspaces []string `json:"workspaces,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier verifies and issues HS256 tokens with a shared secret.
type HMACVerifier struct {
	secret []byte
}

func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

func (v *HMACVerifier) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user id")
	}

	return &Principal{
		UserID:     claims.UserID,
		Email:      claims.Email,
		Workspaces: claims.Workspaces,
	}, nil
}

// Issue signs a token for userID. A zero ttl issues a token without expiry.
func (v *HMACVerifier) Issue(userID, email string, workspaces []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LegacyClaims{
		UserID:     userID,
		Email:      email,
		Workspaces: workspaces,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   Issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
