package requestid

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderKey carries the correlation id on requests and responses.
const HeaderKey = "X-Correlation-ID"

// LegacyHeaderKey is accepted on input when HeaderKey is absent.
const LegacyHeaderKey = "X-Request-ID"

const (
	contextKey  = "correlation_id"
	maxIDLength = 128
)

// Middleware assigns a correlation id to each incoming HTTP request, reusing a
// caller supplied one when present.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := sanitize(c.GetHeader(HeaderKey))
		if id == "" {
			id = sanitize(c.GetHeader(LegacyHeaderKey))
		}
		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")
		}

		c.Set(contextKey, id)
		c.Writer.Header().Set(HeaderKey, id)

		c.Next()
	}
}

// Value returns the correlation id stored in the Gin context.
func Value(c *gin.Context) string {
	if v, exists := c.Get(contextKey); exists {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// sanitize drops ids that are too long or carry characters unsafe for log lines.
func sanitize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > maxIDLength {
		return ""
	}
	for _, r := range raw {
		if r < 0x21 || r > 0x7e {
			return ""
		}
	}
	return raw
}
