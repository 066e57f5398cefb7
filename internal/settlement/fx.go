package settlement

import (
	"github.com/smallbiznis/gocart/internal/config"
	"github.com/smallbiznis/gocart/internal/settlement/adapters"
	"github.com/smallbiznis/gocart/internal/settlement/adapters/razorpay"
	"github.com/smallbiznis/gocart/internal/settlement/adapters/stripe"
	"github.com/smallbiznis/gocart/internal/settlement/domain"
	"github.com/smallbiznis/gocart/internal/settlement/engine"
	"github.com/smallbiznis/gocart/internal/settlement/ledger"
	"github.com/smallbiznis/gocart/internal/settlement/reporter"
	"github.com/smallbiznis/gocart/internal/settlement/repository"
	"github.com/smallbiznis/gocart/internal/settlement/webhook"
	"github.com/smallbiznis/gocart/internal/settlement/worker"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(repository.ProvideOrders),
	fx.Provide(repository.ProvideLedger),
	fx.Provide(repository.ProvideRetries),
	fx.Provide(NewRegistry),
	fx.Provide(
		fx.Annotate(ledger.New, fx.As(new(domain.Ledger))),
		fx.Annotate(engine.New, fx.As(new(domain.Engine))),
	),
	fx.Provide(reporter.New),
	fx.Provide(webhook.NewService),
	worker.Module,
)

// NewRegistry registers every provider this deployment can settle. The
// stripe checkout session lookup is only available with an API key.
func NewRegistry(cfg config.Config) *adapters.Registry {
	var sessions stripe.SessionClient
	if cfg.Stripe.SecretKey != "" {
		sessions = stripe.NewSessionClient(cfg.Stripe.SecretKey)
	}
	return adapters.NewRegistry(
		stripe.NewFactory(sessions),
		razorpay.NewFactory(),
	)
}
