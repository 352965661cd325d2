package sqlstore

import (
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// recordHandlers builds the repository hooks for a record keyed by a string
// uuid column named id.
func recordHandlers[R any](idField func(*R) *string) repository.ModelHandlers[*R] {
	return repository.ModelHandlers[*R]{
		NewRecord: func() *R {
			return new(R)
		},
		GetID: func(record *R) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(*idField(record))
		},
		SetID: func(record *R, id uuid.UUID) {
			if record == nil {
				return
			}
			*idField(record) = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *R) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(*idField(record))
		},
	}
}

func inboundEventHandlers() repository.ModelHandlers[*inboundEventRecord] {
	return recordHandlers(func(r *inboundEventRecord) *string { return &r.ID })
}

func credentialHandlers() repository.ModelHandlers[*credentialRecord] {
	return recordHandlers(func(r *credentialRecord) *string { return &r.ID })
}

func changeRequestHandlers() repository.ModelHandlers[*changeRequestRecord] {
	return recordHandlers(func(r *changeRequestRecord) *string { return &r.ID })
}

func subscriptionHandlers() repository.ModelHandlers[*subscriptionRecord] {
	return recordHandlers(func(r *subscriptionRecord) *string { return &r.ID })
}

func deliveryHandlers() repository.ModelHandlers[*deliveryRecord] {
	return recordHandlers(func(r *deliveryRecord) *string { return &r.ID })
}

func outboxHandlers() repository.ModelHandlers[*outboxRecord] {
	return recordHandlers(func(r *outboxRecord) *string { return &r.ID })
}

// newRepository wires a repository and fails fast on invalid handlers.
func newRepository[R any](db *bun.DB, name string, handlers repository.ModelHandlers[*R]) (repository.Repository[*R], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*R](db, handlers)
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return repo, nil
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
