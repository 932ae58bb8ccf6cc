package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"resource-chat/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// Service resolves identity tokens issued by the main application into the
// author reference carried by a chat connection. It never issues tokens for
// real users; SignToken exists for tooling and tests.
type Service struct {
	secret []byte
}

func NewService(secret []byte) *Service {
	return &Service{secret: secret}
}

func (s *Service) ValidateToken(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", models.ErrUnauthorized)
	}
	return claims, nil
}

// Resolve validates tokenString and extracts the author. The user id is read
// from "sub", falling back to the legacy "user_id" claim.
func (s *Service) Resolve(tokenString string) (*models.Author, error) {
	claims, err := s.ValidateToken(strings.TrimSpace(tokenString))
	if err != nil {
		return nil, err
	}

	id := claimString(claims, "sub")
	if id == "" {
		id = claimString(claims, "user_id")
	}
	if id == "" {
		return nil, fmt.Errorf("%w: token has no subject", models.ErrUnauthorized)
	}

	name := claimString(claims, "name")
	if name == "" {
		name = claimString(claims, "username")
	}

	return &models.Author{
		ID:     id,
		Name:   name,
		Avatar: claimString(claims, "avatar"),
	}, nil
}

func (s *Service) SignToken(author models.Author, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":    author.ID,
		"name":   author.Name,
		"avatar": author.Avatar,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// claimString accepts string and numeric claims; numeric ids are common in
// tokens minted by the main application.
func claimString(claims jwt.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
