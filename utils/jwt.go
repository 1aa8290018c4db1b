package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DashboardClaims grant owner access to a single dashboard.
type DashboardClaims struct {
	DashboardID string `json:"dashboard_id"`
	Slug        string `json:"slug"`
	jwt.RegisteredClaims
}

// GenerateDashboardToken issues an owner token for the dashboard.
func GenerateDashboardToken(secret, dashboardID, slug string, duration time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(duration)
	claims := DashboardClaims{
		DashboardID: dashboardID,
		Slug:        slug,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   dashboardID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	return signed, expiresAt, err
}

// ParseDashboardToken validates a token and returns its claims.
func ParseDashboardToken(secret, tokenStr string) (*DashboardClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &DashboardClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*DashboardClaims)
	if !ok || !parsed.Valid || claims.DashboardID == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
