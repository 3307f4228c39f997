package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTypeAccess = "access"

type havenClaims struct {
	jwt.RegisteredClaims
	UserID        string   `json:"uid"`
	TenantID      string   `json:"tid"`
	Company       string   `json:"company,omitempty"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	PlatformAdmin bool     `json:"padm,omitempty"`
	TokenType     string   `json:"type"`
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	signingKey []byte
	issuer     string
	expiry     time.Duration
}

func NewTokenService(signingKey, issuer string, expiryHours int) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		expiry:     time.Duration(expiryHours) * time.Hour,
	}
}

// CreateAccessToken signs an HS256 access token for identity.
func (s *TokenService) CreateAccessToken(identity *Identity) (string, error) {
	now := time.Now()

	claims := havenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   identity.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
		UserID:        identity.UserID,
		TenantID:      identity.TenantID,
		Company:       identity.Company,
		Email:         identity.Email,
		Roles:         identity.Roles,
		PlatformAdmin: identity.PlatformAdmin,
		TokenType:     tokenTypeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.signingKey)
}

func (s *TokenService) ValidateToken(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &havenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*havenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	return &Identity{
		UserID:        claims.UserID,
		TenantID:      claims.TenantID,
		Company:       claims.Company,
		Email:         claims.Email,
		Roles:         claims.Roles,
		PlatformAdmin: claims.PlatformAdmin,
		TokenType:     claims.TokenType,
	}, nil
}
