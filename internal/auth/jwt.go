// AngelaMos | 2026
// jwt.go

package auth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/carterperez-dev/voiceagent-billing/internal/config"
	"github.com/carterperez-dev/voiceagent-billing/internal/core"
	"github.com/carterperez-dev/voiceagent-billing/internal/middleware"
)

const (
	claimRole       = "role"
	claimType       = "typ"
	accessType      = "access"
	clockSkew       = 30 * time.Second
	jwksCacheMaxAge = "public, max-age=3600"
)

// JWTManager signs ES256 access tokens and publishes the verifying key as
// a JWKS. The key id is the RFC 7638 thumbprint, so it stays stable across
// restarts with the same key file.
type JWTManager struct {
	signer   jwk.Key
	verifier jwk.Key
	jwks     jwk.Set
	keyID    string
	cfg      config.JWTConfig
}

func NewJWTManager(cfg config.JWTConfig) (*JWTManager, error) {
	raw, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}

	signer, err := jwk.ParseKey(raw, jwk.WithPEM(true))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}

	kid, err := thumbprintID(signer)
	if err != nil {
		return nil, err
	}

	for k, v := range map[string]any{jwk.AlgorithmKey: jwa.ES256(), jwk.KeyIDKey: kid} {
		if err := signer.Set(k, v); err != nil {
			return nil, fmt.Errorf("set %s: %w", k, err)
		}
	}

	verifier, err := signer.PublicKey()
	if err != nil {
		return nil, fmt.Errorf("derive verifying key: %w", err)
	}
	if err := verifier.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("set key usage: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(verifier); err != nil {
		return nil, fmt.Errorf("build jwks: %w", err)
	}

	return &JWTManager{
		signer:   signer,
		verifier: verifier,
		jwks:     set,
		keyID:    kid,
		cfg:      cfg,
	}, nil
}

func thumbprintID(key jwk.Key) (string, error) {
	tp, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp)[:16], nil
}

// GenerateKeyPair writes a fresh P-256 key pair as PEM.
func GenerateKeyPair(privatePath, publicPath string) error {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	private, err := jwk.Import(ecKey)
	if err != nil {
		return fmt.Errorf("import key: %w", err)
	}
	public, err := private.PublicKey()
	if err != nil {
		return fmt.Errorf("derive public key: %w", err)
	}

	files := []struct {
		key  jwk.Key
		path string
		mode os.FileMode
	}{
		{private, privatePath, 0o600},
		{public, publicPath, 0o644},
	}
	for _, f := range files {
		pem, err := jwk.Pem(f.key)
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.path, err)
		}
		if err := os.WriteFile(f.path, pem, f.mode); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}

	return nil
}

type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

func (m *JWTManager) SignAccess(userID, role string) (*IssuedToken, error) {
	now := time.Now()
	issued := &IssuedToken{
		TokenID:   uuid.New().String(),
		ExpiresAt: now.Add(m.cfg.AccessTokenExpire),
	}

	token, err := jwt.NewBuilder().
		JwtID(issued.TokenID).
		Issuer(m.cfg.Issuer).
		Audience([]string{m.cfg.Audience}).
		Subject(userID).
		IssuedAt(now).
		NotBefore(now).
		Expiration(issued.ExpiresAt).
		Claim(claimRole, role).
		Claim(claimType, accessType).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build access token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.ES256(), m.signer))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	issued.Token = string(signed)
	return issued, nil
}

func (m *JWTManager) AccessTTL() time.Duration {
	return m.cfg.AccessTokenExpire
}

// VerifyAccess checks signature, issuer, audience and time claims, then
// requires the custom claims this service puts on every access token.
func (m *JWTManager) VerifyAccess(raw string) (*middleware.AccessTokenClaims, error) {
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.ES256(), m.verifier),
		jwt.WithValidate(true),
		jwt.WithIssuer(m.cfg.Issuer),
		jwt.WithAudience(m.cfg.Audience),
		jwt.WithAcceptableSkew(clockSkew),
	)
	if err != nil {
		if expired(err) {
			return nil, fmt.Errorf("verify token: %w", core.ErrTokenExpired)
		}
		return nil, fmt.Errorf("verify token: %w", core.ErrTokenInvalid)
	}

	var typ, role string
	if err := token.Get(claimType, &typ); err != nil || typ != accessType {
		return nil, fmt.Errorf("verify token: wrong type: %w", core.ErrTokenInvalid)
	}
	if err := token.Get(claimRole, &role); err != nil || role == "" {
		return nil, fmt.Errorf("verify token: no role: %w", core.ErrTokenInvalid)
	}

	sub, _ := token.Subject()
	jti, _ := token.JwtID()
	if sub == "" || jti == "" {
		return nil, fmt.Errorf("verify token: no subject or id: %w", core.ErrTokenInvalid)
	}
	exp, _ := token.Expiration()

	return &middleware.AccessTokenClaims{
		TokenID:   jti,
		UserID:    sub,
		Role:      role,
		ExpiresAt: exp,
	}, nil
}

// expired matches jwx's "exp" validation failure message.
func expired(err error) bool {
	return strings.Contains(err.Error(), `"exp" not satisfied`)
}

func (m *JWTManager) JWKSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body, err := json.Marshal(m.jwks)
		if err != nil {
			core.InternalServerError(w, fmt.Errorf("encode jwks: %w", err))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", jwksCacheMaxAge)
		_, _ = w.Write(body) //nolint:errcheck // client gone
	}
}

func (m *JWTManager) KeyID() string {
	return m.keyID
}

type RefreshTokenData struct {
	Token     string
	Hash      string
	ExpiresAt time.Time
	FamilyID  string
}

// NewRefresh mints an opaque refresh token. An empty familyID starts a
// new rotation family.
func (m *JWTManager) NewRefresh(familyID string) (*RefreshTokenData, error) {
	token, err := core.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	if familyID == "" {
		familyID = uuid.New().String()
	}

	return &RefreshTokenData{
		Token:     token,
		Hash:      core.HashToken(token),
		ExpiresAt: time.Now().Add(m.cfg.RefreshTokenExpire),
		FamilyID:  familyID,
	}, nil
}
