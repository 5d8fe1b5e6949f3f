// middleware/client_ip.go
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIPKey is the fiber locals key the resolved caller IP is stored under.
const ClientIPKey = "client_ip"

// Proxy headers checked in order. The service sits behind a gateway, so the
// socket address is the gateway, not the caller.
var ipHeaders = []string{
	"x-forwarded-for",
	"cf-connecting-ip",
	"x-real-ip",
	"true-client-ip",
}

// ClientIPMiddleware resolves the caller's network address into locals.
// Best effort: when no header yields an IP the value stays empty and
// downstream cooldown checks fall back to wallet-only enforcement.
func ClientIPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		ip := ""
		for _, h := range ipHeaders {
			v := c.Get(h)
			if v == "" {
				continue
			}
			// x-forwarded-for may be a chain; the first hop is the caller.
			if idx := strings.Index(v, ","); idx >= 0 {
				v = v[:idx]
			}
			ip = strings.TrimSpace(v)
			if ip != "" {
				break
			}
		}
		c.Locals(ClientIPKey, ip)
		return c.Next()
	}
}
