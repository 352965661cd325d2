package sqlstore

import "github.com/goliatone/go-integrations/core"

var (
	_ core.StoreProvider       = (*RepositoryFactory)(nil)
	_ core.InboundEventStore   = (*InboundEventStore)(nil)
	_ core.CredentialStore     = (*CredentialStore)(nil)
	_ core.CredentialStore     = (*CachedCredentialStore)(nil)
	_ core.ChangeRequestStore  = (*ChangeRequestStore)(nil)
	_ core.SubscriptionStore   = (*SubscriptionStore)(nil)
	_ core.DeliveryRecordStore = (*DeliveryRecordStore)(nil)
	_ core.OutboxStore         = (*OutboxStore)(nil)
)
