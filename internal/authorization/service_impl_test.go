package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/internal/settlement/settlementtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *ServiceImpl {
	t.Helper()
	db := settlementtest.OpenDB(t)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer}).(*ServiceImpl)
}

func TestAuthorizeAdminCanViewSettlements(t *testing.T) {
	svc := newTestService(t)

	err := svc.Authorize(context.Background(), domain.Identity{UserID: "U1", Admin: true}, ObjectSettlement, ActionSettlementView)
	assert.NoError(t, err)
}

func TestAuthorizeCustomerIsForbidden(t *testing.T) {
	svc := newTestService(t)

	err := svc.Authorize(context.Background(), domain.Identity{UserID: "U2"}, ObjectSettlement, ActionSettlementView)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAuthorizeDemotedAdminLosesRole(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, domain.Identity{UserID: "U3", Admin: true}, ObjectSettlement, ActionSettlementView))

	err := svc.Authorize(ctx, domain.Identity{UserID: "U3"}, ObjectSettlement, ActionSettlementView)
	assert.ErrorIs(t, err, ErrForbidden)

	roles, err := svc.enforcer.GetRolesForUser("user:U3")
	require.NoError(t, err)
	assert.Equal(t, []string{RoleCustomer}, roles)
}

func TestAuthorizeRejectsInvalidInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, domain.Identity{UserID: " "}, ObjectSettlement, ActionSettlementView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, domain.Identity{UserID: "U1"}, "", ActionSettlementView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, domain.Identity{UserID: "U1"}, ObjectSettlement, ""), ErrInvalidAction)
}

func TestNewEnforcerSeedsPoliciesOnce(t *testing.T) {
	db := settlementtest.OpenDB(t)

	_, err := NewEnforcer(db)
	require.NoError(t, err)
	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)

	policies, err := enforcer.GetFilteredPolicy(0, RoleAdmin)
	require.NoError(t, err)
	assert.Len(t, policies, 1)
}
