package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gocart/internal/identity"
)

const (
	contextProviderKey = "settlement_provider"

	// Provider payloads are small JSON documents; anything larger is not a
	// delivery we can settle.
	maxWebhookBodyBytes = 1 << 20
)

// withProvider records the provider on the gin context for request logs.
// An empty fixed value reads it from the :provider path parameter.
func (s *Server) withProvider(fixed string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provider := fixed
		if provider == "" {
			provider = c.Param("provider")
		}
		c.Set(contextProviderKey, strings.ToLower(strings.TrimSpace(provider)))
		c.Next()
	}
}

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		id, ok := identity.FromGin(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), id, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func readPayload(c *gin.Context) ([]byte, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes)
	return io.ReadAll(body)
}
