package identity

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/gocart/internal/observability/context"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"go.uber.org/fx"
)

const (
	HeaderUserID = "X-User-Id"
	HeaderAdmin  = "X-User-Admin"

	contextIdentityKey = "identity"
)

var ErrUnauthenticated = errors.New("unauthenticated")

var Module = fx.Module("identity",
	fx.Provide(func() Resolver { return HeaderResolver{} }),
)

// Resolver yields the caller's identity. Authentication itself happens
// upstream, in the storefront's session layer.
type Resolver interface {
	Resolve(r *http.Request) (domain.Identity, error)
}

// HeaderResolver trusts identity headers set by the authenticating proxy.
type HeaderResolver struct{}

func (HeaderResolver) Resolve(r *http.Request) (domain.Identity, error) {
	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		return domain.Identity{}, ErrUnauthenticated
	}
	admin, _ := strconv.ParseBool(strings.TrimSpace(r.Header.Get(HeaderAdmin)))
	return domain.Identity{UserID: userID, Admin: admin}, nil
}

// Required rejects requests without an identity and stores the resolved
// one on the gin and request contexts.
func Required(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := resolver.Resolve(c.Request)
		if err != nil {
			c.Status(http.StatusUnauthorized)
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(contextIdentityKey, id)
		ctx := obscontext.WithUserID(c.Request.Context(), id.UserID)
		c.Request = c.Request.WithContext(WithIdentity(ctx, id))
		c.Next()
	}
}

func FromGin(c *gin.Context) (domain.Identity, bool) {
	value, ok := c.Get(contextIdentityKey)
	if !ok {
		return domain.Identity{}, false
	}
	id, ok := value.(domain.Identity)
	return id, ok
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (domain.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(domain.Identity)
	return id, ok
}
