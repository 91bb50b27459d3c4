package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request identifier in both directions.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin.Context key holding the request identifier.
	RequestIDKey = "request_id"

	// maxRequestIDLength bounds caller-supplied identifiers.
	maxRequestIDLength = 128
)

// RequestIDMiddleware returns a Gin handler that tags every request with an identifier.
//
// A caller-supplied X-Request-ID is reused when it is at most 128 printable ASCII
// characters; anything else is replaced by a new UUID v4. The identifier is stored
// under RequestIDKey and echoed in the response header so callers can correlate
// gate denials with server logs.
//
// Register it before MetricsMiddleware and the request logger:
//
//	router.Use(gin.Recovery())
//	router.Use(RequestIDMiddleware())
//	router.Use(MetricsMiddleware())
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.New().String()
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		c.Next()
	}
}

// GetRequestID returns the identifier set by RequestIDMiddleware, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}
