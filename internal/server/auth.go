package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const adminRole = "admin"

// AdminClaims are carried by tokens minted with MintAdminToken.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// MintAdminToken signs an HS256 admin token for subject valid for ttl.
func MintAdminToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("server: empty jwt secret")
	}
	now := time.Now()
	claims := &AdminClaims{
		Role: adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	tkn := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tkn.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func adminOnly(secret []byte) []echo.MiddlewareFunc {
	return []echo.MiddlewareFunc{
		echojwt.WithConfig(echojwt.Config{
			SigningKey:    secret,
			NewClaimsFunc: func(c echo.Context) jwt.Claims { return new(AdminClaims) },
			ErrorHandler: func(c echo.Context, err error) error {
				return jsonError(c, http.StatusUnauthorized, "invalid or missing token")
			},
		}),
		func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				tkn, ok := c.Get("user").(*jwt.Token)
				if !ok {
					return jsonError(c, http.StatusUnauthorized, "invalid or missing token")
				}
				claims, ok := tkn.Claims.(*AdminClaims)
				if !ok || claims.Role != adminRole {
					return jsonError(c, http.StatusForbidden, "admin role required")
				}
				return next(c)
			}
		},
	}
}
