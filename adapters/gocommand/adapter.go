package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"

	integrationcommand "github.com/goliatone/go-integrations/command"
	integrationquery "github.com/goliatone/go-integrations/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// HandlerSet bundles the subscriptions created by RegisterIntegrationHandlers
// so callers can tear the bus down cleanly.
type HandlerSet struct {
	subscriptions []commanddispatcher.Subscription
}

func (h *HandlerSet) Unsubscribe() {
	if h == nil {
		return
	}
	for _, sub := range h.subscriptions {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
	h.subscriptions = nil
}

// RegisterIntegrationHandlers registers and subscribes the full command and
// query surface for one integration service. The mutating service and the
// readers usually point at the same core service instance.
func RegisterIntegrationHandlers(
	adapter *RegistryAdapter,
	service integrationcommand.MutatingService,
	integrations integrationquery.IntegrationReader,
	auditEvents integrationquery.AuditEventReader,
	runnerOpts ...runner.Option,
) (*HandlerSet, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: mutating service is required")
	}
	if integrations == nil {
		return nil, fmt.Errorf("gocommand: integration reader is required")
	}

	set := &HandlerSet{}
	fail := func(err error) (*HandlerSet, error) {
		set.Unsubscribe()
		return nil, err
	}

	beginCmd := integrationcommand.NewBeginAuthorizationCommand(service)
	set.subscriptions = append(set.subscriptions, SubscribeCommand(beginCmd, runnerOpts...))
	if err := adapter.RegisterCommand(beginCmd); err != nil {
		return fail(err)
	}

	callbackCmd := integrationcommand.NewHandleCallbackCommand(service)
	set.subscriptions = append(set.subscriptions, SubscribeCommand(callbackCmd, runnerOpts...))
	if err := adapter.RegisterCommand(callbackCmd); err != nil {
		return fail(err)
	}

	refreshCmd := integrationcommand.NewRefreshCommand(service)
	set.subscriptions = append(set.subscriptions, SubscribeCommand(refreshCmd, runnerOpts...))
	if err := adapter.RegisterCommand(refreshCmd); err != nil {
		return fail(err)
	}

	healthCmd := integrationcommand.NewCheckHealthCommand(service)
	set.subscriptions = append(set.subscriptions, SubscribeCommand(healthCmd, runnerOpts...))
	if err := adapter.RegisterCommand(healthCmd); err != nil {
		return fail(err)
	}

	revokeCmd := integrationcommand.NewRevokeCommand(service)
	set.subscriptions = append(set.subscriptions, SubscribeCommand(revokeCmd, runnerOpts...))
	if err := adapter.RegisterCommand(revokeCmd); err != nil {
		return fail(err)
	}

	getQry := integrationquery.NewGetIntegrationQuery(integrations)
	set.subscriptions = append(set.subscriptions, SubscribeQuery(getQry, runnerOpts...))
	if err := adapter.RegisterQuery(getQry); err != nil {
		return fail(err)
	}

	listQry := integrationquery.NewListIntegrationsQuery(integrations)
	set.subscriptions = append(set.subscriptions, SubscribeQuery(listQry, runnerOpts...))
	if err := adapter.RegisterQuery(listQry); err != nil {
		return fail(err)
	}

	if auditEvents != nil {
		auditQry := integrationquery.NewListAuditEventsQuery(auditEvents)
		set.subscriptions = append(set.subscriptions, SubscribeQuery(auditQry, runnerOpts...))
		if err := adapter.RegisterQuery(auditQry); err != nil {
			return fail(err)
		}
	}

	return set, nil
}
