package middleware

import (
	"github.com/ErlanBelekov/race-sync/internal/requestid"
	"github.com/gin-gonic/gin"
)

const maxRequestIDLen = 64

// RequestID stamps every request with an id. An incoming X-Request-ID is kept
// when it is short and plain; anything else is replaced so it cannot corrupt
// log lines or the header forwarded upstream.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if !validRequestID(id) {
			id = requestid.New()
		}

		c.Request = c.Request.WithContext(requestid.WithRequestID(c.Request.Context(), id))
		c.Header(requestid.Header, id)
		c.Next()
	}
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == ':':
		default:
			return false
		}
	}
	return true
}
