package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "blockverse"

// Claims - содержимое токена входа
type Claims struct {
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
	jwt.RegisteredClaims
}

// TokenProvider проверяет HS256 JWT, присланный клиентом по CredentialChannel
type TokenProvider struct {
	secret []byte
	now    func() time.Time
}

// NewTokenProvider создаёт провайдер с секретом подписи
func NewTokenProvider(secret []byte) (*TokenProvider, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 bytes")
	}
	return &TokenProvider{secret: secret, now: time.Now}, nil
}

// RequiresCredential реализует CredentialRequester
func (p *TokenProvider) RequiresCredential() bool { return true }

// Issue выпускает токен для игрока
func (p *TokenProvider) Issue(username string, admin bool, ttl time.Duration) (string, error) {
	now := p.now()
	claims := &Claims{
		Username: username,
		IsAdmin:  admin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Validate реализует Provider
func (p *TokenProvider) Validate(_ context.Context, creds Credentials) (Identity, error) {
	if !ValidName(creds.Name) {
		return Identity{}, Reject("Invalid player name")
	}
	if len(creds.Secret) == 0 {
		return Identity{}, Reject("Login token required")
	}

	claims, err := p.Parse(string(creds.Secret))
	if err != nil {
		return Identity{}, Reject("Invalid login token")
	}
	if !strings.EqualFold(claims.Username, creds.Name) {
		return Identity{}, Reject("Login token issued for another player")
	}
	return Identity{Name: creds.Name, UUID: OfflineUUID(creds.Name), Admin: claims.IsAdmin}, nil
}

// Parse проверяет подпись, издателя и срок токена
func (p *TokenProvider) Parse(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(p.now))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}
