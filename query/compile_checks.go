package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
)

var (
	_ gocmd.Querier[GetChangeRequestMessage, core.AutonomousChangeRequest]        = (*GetChangeRequestQuery)(nil)
	_ gocmd.Querier[ListSubscriptionsMessage, []core.OutboundWebhookSubscription] = (*ListSubscriptionsQuery)(nil)
	_ gocmd.Querier[ListDeliveriesMessage, []core.OutboundDeliveryRecord]         = (*ListDeliveriesQuery)(nil)
	_ gocmd.Querier[CircuitStateMessage, resilience.CircuitSnapshot]              = (*CircuitStateQuery)(nil)
	_ gocmd.Querier[RateLimitWindowMessage, ratelimit.Window]                     = (*RateLimitWindowQuery)(nil)
	_ gocmd.Querier[GitHubAuthorizeURLMessage, string]                            = (*GitHubAuthorizeURLQuery)(nil)
)
