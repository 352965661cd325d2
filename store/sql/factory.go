package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-integrations/core"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithSecretProvider seals OAuth tokens and subscription secrets at rest.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

// WithCredentialCache fronts credential reads with a go-repository-cache service.
func WithCredentialCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.credentialCache = cacheService
	}
}

// RepositoryFactory builds every SQL store over one bun database.
type RepositoryFactory struct {
	db              *bun.DB
	secrets         core.SecretProvider
	credentialCache repositorycache.CacheService

	inboundEventStore   *InboundEventStore
	credentialStore     core.CredentialStore
	changeRequestStore  *ChangeRequestStore
	subscriptionStore   *SubscriptionStore
	deliveryRecordStore *DeliveryRecordStore
	outboxStore         *OutboxStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.inboundEventStore != nil && f.credentialStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) InboundEventStore() core.InboundEventStore {
	if f == nil || f.inboundEventStore == nil {
		return nil
	}
	return f.inboundEventStore
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) ChangeRequestStore() core.ChangeRequestStore {
	if f == nil || f.changeRequestStore == nil {
		return nil
	}
	return f.changeRequestStore
}

func (f *RepositoryFactory) SubscriptionStore() core.SubscriptionStore {
	if f == nil || f.subscriptionStore == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) DeliveryRecordStore() core.DeliveryRecordStore {
	if f == nil || f.deliveryRecordStore == nil {
		return nil
	}
	return f.deliveryRecordStore
}

func (f *RepositoryFactory) OutboxStore() core.OutboxStore {
	if f == nil || f.outboxStore == nil {
		return nil
	}
	return f.outboxStore
}

func (f *RepositoryFactory) initStores() error {
	if f.secrets == nil {
		return fmt.Errorf("sqlstore: secret provider is required")
	}
	inboundEventStore, err := NewInboundEventStore(f.db)
	if err != nil {
		return err
	}
	credentialStore, err := NewCredentialStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	changeRequestStore, err := NewChangeRequestStore(f.db)
	if err != nil {
		return err
	}
	subscriptionStore, err := NewSubscriptionStore(f.db, f.secrets)
	if err != nil {
		return err
	}
	deliveryRepo, err := newRepository(f.db, "delivery record", deliveryHandlers())
	if err != nil {
		return err
	}
	outboxStore, err := NewOutboxStore(f.db)
	if err != nil {
		return err
	}

	f.inboundEventStore = inboundEventStore
	f.credentialStore = credentialStore
	if f.credentialCache != nil {
		cached, cacheErr := NewCachedCredentialStore(credentialStore, f.credentialCache)
		if cacheErr != nil {
			return cacheErr
		}
		f.credentialStore = cached
	}
	f.changeRequestStore = changeRequestStore
	f.subscriptionStore = subscriptionStore
	f.deliveryRecordStore = &DeliveryRecordStore{repo: deliveryRepo}
	f.outboxStore = outboxStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
