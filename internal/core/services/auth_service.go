package services

import (
	"errors"
	"time"

	"meshvoice/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrExpiredToken   = errors.New("token expired")
	ErrSenderMismatch = errors.New("token does not belong to sender")
)

// RelayAuth signs and checks the short lived tokens that accompany relayed
// signaling messages when the mesh is configured with a shared secret.
type RelayAuth interface {
	GenerateToken(sender domain.SelfAddresses) (string, error)
	ValidateToken(tokenString string) (*Claims, error)
	// Authorize validates the token and checks it was issued to sender.
	Authorize(tokenString string, sender domain.SelfAddresses) error
}

type Claims struct {
	Sender domain.SelfAddresses `json:"sender"`
	jwt.RegisteredClaims
}

type relayAuth struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time
}

func NewRelayAuth(secret string, tokenTTL time.Duration) RelayAuth {
	return &relayAuth{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
	}
}

func (s *relayAuth) GenerateToken(sender domain.SelfAddresses) (string, error) {
	now := s.now()
	claims := &Claims{
		Sender: sender,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sender.Primary().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *relayAuth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidToken
}

func (s *relayAuth) Authorize(tokenString string, sender domain.SelfAddresses) error {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return err
	}
	// a peer may learn only one of our addresses; any overlap is enough
	if (sender.IPv4 != "" && sender.IPv4 == claims.Sender.IPv4) ||
		(sender.IPv6 != "" && sender.IPv6 == claims.Sender.IPv6) {
		return nil
	}
	return ErrSenderMismatch
}
