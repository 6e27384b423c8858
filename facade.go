package integrations

import (
	"fmt"
	"reflect"

	integrationcommand "github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	integrationquery "github.com/goliatone/go-integrations/query"
)

// CommandQueryService is what the facade needs: the mutating surface plus
// the integration read path. *core.Service satisfies it.
type CommandQueryService interface {
	integrationcommand.MutatingService
	integrationquery.IntegrationReader
}

type Commands struct {
	BeginAuthorization *integrationcommand.BeginAuthorizationCommand
	HandleCallback     *integrationcommand.HandleCallbackCommand
	Refresh            *integrationcommand.RefreshCommand
	CheckHealth        *integrationcommand.CheckHealthCommand
	Revoke             *integrationcommand.RevokeCommand
}

type Queries struct {
	GetIntegration   *integrationquery.GetIntegrationQuery
	ListIntegrations *integrationquery.ListIntegrationsQuery
	ListAuditEvents  *integrationquery.ListAuditEventsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	auditReader integrationquery.AuditEventReader
}

// WithAuditEventReader overrides where the audit query reads from. When
// absent the facade resolves the reader from the service's repository
// factory.
func WithAuditEventReader(reader integrationquery.AuditEventReader) FacadeOption {
	return func(options *facadeOptions) {
		options.auditReader = reader
	}
}

func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("integrations: command/query service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	reader := cfg.auditReader
	if reader == nil {
		reader = resolveAuditEventReader(service)
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		BeginAuthorization: integrationcommand.NewBeginAuthorizationCommand(service),
		HandleCallback:     integrationcommand.NewHandleCallbackCommand(service),
		Refresh:            integrationcommand.NewRefreshCommand(service),
		CheckHealth:        integrationcommand.NewCheckHealthCommand(service),
		Revoke:             integrationcommand.NewRevokeCommand(service),
	}
	facade.queries = Queries{
		GetIntegration:   integrationquery.NewGetIntegrationQuery(service),
		ListIntegrations: integrationquery.NewListIntegrationsQuery(service),
		ListAuditEvents:  integrationquery.NewListAuditEventsQuery(reader),
	}

	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

// resolveAuditEventReader walks the service's repository factory for an
// AuditEventStore() accessor. Reflection keeps the facade decoupled from the
// concrete store package.
func resolveAuditEventReader(service CommandQueryService) integrationquery.AuditEventReader {
	if service == nil {
		return nil
	}
	if reader, ok := service.(integrationquery.AuditEventReader); ok {
		return reader
	}
	provider, ok := service.(interface {
		Dependencies() core.ServiceDependencies
	})
	if !ok {
		return nil
	}
	deps := provider.Dependencies()
	if deps.RepositoryFactory == nil {
		return nil
	}

	factoryValue := reflect.ValueOf(deps.RepositoryFactory)
	if !factoryValue.IsValid() {
		return nil
	}
	if factoryValue.Kind() == reflect.Ptr && factoryValue.IsNil() {
		return nil
	}
	method := factoryValue.MethodByName("AuditEventStore")
	if !method.IsValid() || method.Type().NumIn() != 0 || method.Type().NumOut() != 1 {
		return nil
	}

	results, ok := safeReflectCall(method)
	if !ok {
		return nil
	}
	if len(results) != 1 {
		return nil
	}
	candidate := results[0]
	if !candidate.IsValid() {
		return nil
	}
	if candidate.Kind() == reflect.Ptr && candidate.IsNil() {
		return nil
	}
	reader, ok := candidate.Interface().(integrationquery.AuditEventReader)
	if !ok {
		return nil
	}
	return reader
}

func safeReflectCall(method reflect.Value) (_ []reflect.Value, ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return method.Call(nil), true
}
