package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"

	"github.com/tappedai/event-crawler/internal/id"
)

const (
	tokenIssuer   = "event-crawler"
	tokenAudience = "asset"

	assetClaim = "asset"
)

// ErrWrongAsset is returned when a valid token names a different asset.
var ErrWrongAsset = errors.New("token does not grant this asset")

// TokenService issues PASETO v4.local tokens that grant read access to one
// stored asset until they expire.
type TokenService struct {
	symmetricKey paseto.V4SymmetricKey
	now          func() time.Time
	ttl          time.Duration
}

// NewTokenService creates a token service from a 64 character hex key.
func NewTokenService(keyHex string, ttl time.Duration) (*TokenService, error) {
	if len(keyHex) != keyHexLength {
		return nil, fmt.Errorf("PASETO v4 key must be exactly %d hex characters (%d bytes), got %d", keyHexLength, keyLength, len(keyHex))
	}

	keyBytes, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string for PASETO key: %w", err)
	}

	key, err := paseto.V4SymmetricKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create PASETO symmetric key: %w", err)
	}

	return &TokenService{symmetricKey: key, now: time.Now, ttl: ttl}, nil
}

// Sign returns a token granting access to assetKey.
func (s *TokenService) Sign(assetKey string) (string, error) {
	now := s.now()

	token := paseto.NewToken()
	token.SetIssuer(tokenIssuer)
	token.SetAudience(tokenAudience)
	token.SetIssuedAt(now)
	token.SetNotBefore(now)
	token.SetExpiration(now.Add(s.ttl))

	tokenID, err := id.Generate("asset")
	if err != nil {
		return "", fmt.Errorf("generate token ID: %w", err)
	}
	token.SetJti(tokenID)

	if err := token.Set(assetClaim, assetKey); err != nil {
		return "", fmt.Errorf("set asset claim: %w", err)
	}

	return token.V4Encrypt(s.symmetricKey, nil), nil
}

// Verify checks that tokenString is valid now and grants assetKey.
func (s *TokenService) Verify(tokenString, assetKey string) error {
	parser := paseto.NewParserWithoutExpiryCheck()
	parser.AddRule(paseto.ForAudience(tokenAudience))
	parser.AddRule(paseto.IssuedBy(tokenIssuer))
	parser.AddRule(paseto.ValidAt(s.now()))

	token, err := parser.ParseV4Local(s.symmetricKey, tokenString, nil)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}

	granted, err := token.GetString(assetClaim)
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	if granted != assetKey {
		return ErrWrongAsset
	}
	return nil
}
