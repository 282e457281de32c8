package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/reelcraft/mediapipe/internal/config"
)

const defaultWorkspaceClaim = "workspaces"

// JWKSVerifier checks RS/ES-signed tokens from an OIDC issuer against its
// published key set.
type JWKSVerifier struct {
	jwks           keyfunc.Keyfunc
	issuer         string
	audience       string
	workspaceClaim string
}

// NewJWKSVerifier discovers the issuer's JWKS endpoint. The key set is
// refreshed in the background until ctx is cancelled.
func NewJWKSVerifier(ctx context.Context, cfg *config.OIDCConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, fmt.Errorf("oidc issuer is required")
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	jwksURL, err := discoverJWKSURL(discoverCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	claim := cfg.WorkspaceClaim
	if claim == "" {
		claim = defaultWorkspaceClaim
	}
	return &JWKSVerifier{
		jwks:           jwks,
		issuer:         strings.TrimSuffix(cfg.Issuer, "/"),
		audience:       cfg.ClientID,
		workspaceClaim: claim,
	}, nil
}

func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	discoveryURL := strings.TrimSuffix(issuer, "/") + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create discovery request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("failed to decode discovery document: %w", err)
	}
	if doc.JWKSURI == "" {
		return "", fmt.Errorf("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}

func (v *JWKSVerifier) Verify(tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("token has no subject")
	}

	name := stringClaim(claims, "name")
	if name == "" {
		name = stringClaim(claims, "preferred_username")
	}
	return &Principal{
		UserID:     sub,
		Email:      stringClaim(claims, "email"),
		Name:       name,
		Workspaces: listClaim(claims, v.workspaceClaim),
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

// listClaim accepts either a single string or an array of strings.
func listClaim(claims jwt.MapClaims, key string) []string {
	switch v := claims[key].(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
