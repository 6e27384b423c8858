package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
)

var (
	_ gocmd.Querier[GetIntegrationMessage, core.Integration]     = (*GetIntegrationQuery)(nil)
	_ gocmd.Querier[ListIntegrationsMessage, []core.Integration] = (*ListIntegrationsQuery)(nil)
	_ gocmd.Querier[ListAuditEventsMessage, []core.AuditEvent]   = (*ListAuditEventsQuery)(nil)
)
