// Package authmw provides a stubbed bearer-token guard for the
// orchestration and chat routes. Real user/session management is out
// of scope for this service; this middleware only proves the wire
// contract a future auth rollout would slot into, mirroring the
// teacher's AuthMiddleware/OptionalAuthMiddleware split but over
// Fiber and github.com/golang-jwt/jwt/v5 instead of a bespoke
// AuthService.
package authmw

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minimal claim set this placeholder checks. A real
// rollout would carry roles/permissions here the way the teacher's
// AuthService.ValidateToken claims did.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Guard returns Fiber middleware that requires a valid "Bearer <jwt>"
// Authorization header signed with secret, storing the parsed Claims
// in c.Locals("claims") for handlers to read. Disabled entirely when
// secret is empty, since this service has no user-management backend
// to issue tokens against yet.
func Guard(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "bearer token required"})
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		c.Locals("claims", claims)
		return c.Next()
	}
}

// Optional behaves like Guard but never rejects a request: a missing
// or invalid token simply leaves "claims" unset, mirroring the
// teacher's OptionalAuthMiddleware for routes that personalize when
// authenticated but still serve anonymous callers.
func Optional(secret string) fiber.Handler {
	if secret == "" {
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == "" || tokenString == header {
			return c.Next()
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fiber.ErrUnauthorized
			}
			return []byte(secret), nil
		})
		if err == nil && token.Valid {
			c.Locals("claims", claims)
		}
		return c.Next()
	}
}
