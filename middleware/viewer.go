package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextViewerKey holds the anonymous viewer fingerprint in the Gin context.
const ContextViewerKey = "viewer_key"

// ViewerIdentity derives an opaque viewer key from the client IP and user
// agent. The raw values are never stored; the key only de-duplicates views.
func ViewerIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		sum := sha256.Sum256([]byte(effectiveClientIP(c) + "|" + c.Request.UserAgent()))
		c.Set(ContextViewerKey, hex.EncodeToString(sum[:]))
		c.Next()
	}
}

// ViewerKey returns the key set by ViewerIdentity, or "".
func ViewerKey(c *gin.Context) string {
	return c.GetString(ContextViewerKey)
}

// effectiveClientIP extracts the real visitor IP considering common proxy headers.
// Priority: CF-Connecting-IP > X-Real-IP > first of X-Forwarded-For > gin.ClientIP
func effectiveClientIP(c *gin.Context) string {
	if v := publicIP(c.GetHeader("CF-Connecting-IP")); v != "" {
		return v
	}
	if v := publicIP(c.GetHeader("X-Real-IP")); v != "" {
		return v
	}
	if v := c.GetHeader("X-Forwarded-For"); v != "" {
		if first, _, _ := strings.Cut(v, ","); publicIP(first) != "" {
			return publicIP(first)
		}
	}
	return stripPort(c.ClientIP())
}

// publicIP returns the header value without port when it is a routable address.
func publicIP(v string) string {
	v = stripPort(strings.TrimSpace(v))
	p := net.ParseIP(v)
	if p == nil || p.IsLoopback() || p.IsPrivate() {
		return ""
	}
	return v
}

func stripPort(ip string) string {
	if h, _, err := net.SplitHostPort(ip); err == nil {
		return h
	}
	return ip
}
