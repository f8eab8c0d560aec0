// Package token is a local stand-in for the external identity gateway: it
// mints opaque bearer credentials whose claims bind a player to its room and
// device. The credential format is private to this service; callers treat
// the string as opaque.
package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"crowdplay-room-service/internal/domain"
)

// HMACService signs JSON claims with HMAC-SHA256.
type HMACService struct {
	secret []byte
}

// NewHMACService builds a signer. An empty secret gets a random one, which
// is fine for a single instance but invalidates tokens across restarts.
func NewHMACService(secret string) *HMACService {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &HMACService{secret: key}
}

func (s *HMACService) Issue(claims domain.TokenClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.sign(body), nil
}

func (s *HMACService) Verify(token string) (domain.TokenClaims, error) {
	body, sig, found := strings.Cut(token, ".")
	if !found {
		return domain.TokenClaims{}, domain.E(domain.CodeUnauthenticated, "malformed credential")
	}
	if !hmac.Equal([]byte(s.sign(body)), []byte(sig)) {
		return domain.TokenClaims{}, domain.E(domain.CodeUnauthenticated, "invalid credential signature")
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return domain.TokenClaims{}, domain.E(domain.CodeUnauthenticated, "malformed credential")
	}
	var claims domain.TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return domain.TokenClaims{}, domain.E(domain.CodeUnauthenticated, "malformed credential")
	}
	return claims, nil
}

func (s *HMACService) sign(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
