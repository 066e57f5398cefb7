package authorization

import (
	"context"
	"errors"

	"github.com/smallbiznis/gocart/internal/settlement/domain"
)

const ObjectSettlement = "settlement"

const ActionSettlementView = "settlement.view"

const (
	RoleAdmin    = "role:admin"
	RoleCustomer = "role:customer"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service decides whether an identity may perform an action on an object.
type Service interface {
	Authorize(ctx context.Context, identity domain.Identity, object string, action string) error
}
