package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ChangeRequestStore persists autonomous pull requests. A partial unique index
// allows a single open request per tenant, repository and branch.
type ChangeRequestStore struct {
	db   *bun.DB
	repo repository.Repository[*changeRequestRecord]
}

func NewChangeRequestStore(db *bun.DB) (*ChangeRequestStore, error) {
	repo, err := newRepository(db, "change request", changeRequestHandlers())
	if err != nil {
		return nil, err
	}
	return &ChangeRequestStore{db: db, repo: repo}, nil
}

func (s *ChangeRequestStore) Create(ctx context.Context, request core.AutonomousChangeRequest) (core.AutonomousChangeRequest, error) {
	if s == nil || s.repo == nil {
		return core.AutonomousChangeRequest{}, notConfigured("change request")
	}
	if strings.TrimSpace(request.TenantID) == "" {
		return core.AutonomousChangeRequest{}, core.ValidationError("sqlstore: tenant id is required")
	}
	record := newChangeRequestRecord(request)
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.AutonomousChangeRequest{}, mapWriteError(err, "open change request already exists for branch "+request.BranchName)
	}
	return created.toDomain(), nil
}

func (s *ChangeRequestStore) Get(ctx context.Context, tenantID, id string) (core.AutonomousChangeRequest, error) {
	if s == nil || s.repo == nil {
		return core.AutonomousChangeRequest{}, notConfigured("change request")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", strings.TrimSpace(id)),
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AutonomousChangeRequest{}, err
	}
	if len(records) == 0 {
		return core.AutonomousChangeRequest{}, notFound("change request %q not found", id)
	}
	return records[0].toDomain(), nil
}

func (s *ChangeRequestStore) FindOpenByBranch(
	ctx context.Context,
	tenantID string,
	repo core.RepositoryRef,
	branch string,
) (core.AutonomousChangeRequest, bool, error) {
	if s == nil || s.repo == nil {
		return core.AutonomousChangeRequest{}, false, notConfigured("change request")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectBy("repository_key", "=", repositoryKey(repo)),
		repository.SelectBy("branch_name", "=", strings.TrimSpace(branch)),
		repository.SelectBy("status", "=", string(core.ChangeRequestOpen)),
		repository.OrderBy("created_at DESC"),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AutonomousChangeRequest{}, false, err
	}
	if len(records) == 0 {
		return core.AutonomousChangeRequest{}, false, nil
	}
	return records[0].toDomain(), true, nil
}

func (s *ChangeRequestStore) Update(ctx context.Context, request core.AutonomousChangeRequest) (core.AutonomousChangeRequest, error) {
	if s == nil || s.db == nil {
		return core.AutonomousChangeRequest{}, notConfigured("change request")
	}
	record := newChangeRequestRecord(request)
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	result, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "tenant_id", "created_at").
		Where("id = ?", record.ID).
		Where("tenant_id = ?", record.TenantID).
		Exec(ctx)
	if err != nil {
		return core.AutonomousChangeRequest{}, mapWriteError(err, "open change request already exists for branch "+request.BranchName)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.AutonomousChangeRequest{}, notFound("change request %q not found", request.ID)
	}
	return s.Get(ctx, record.TenantID, record.ID)
}

func repositoryKey(repo core.RepositoryRef) string {
	return strings.ToLower(repo.FullName())
}

func newChangeRequestRecord(request core.AutonomousChangeRequest) *changeRequestRecord {
	record := &changeRequestRecord{
		ID:            strings.TrimSpace(request.ID),
		TenantID:      strings.TrimSpace(request.TenantID),
		RepoOwner:     strings.TrimSpace(request.Repository.Owner),
		RepoName:      strings.TrimSpace(request.Repository.Name),
		RepositoryKey: repositoryKey(request.Repository),
		BaseBranch:    request.BaseBranch,
		BranchName:    strings.TrimSpace(request.BranchName),
		HeadSHA:       request.HeadSHA,
		PRNumber:      request.PRNumber,
		PRURL:         request.PRURL,
		Title:         request.Title,
		Description:   request.Description,
		WorkflowType:  string(request.WorkflowType),
		Status:        string(request.Status),
		CreatedAt:     request.CreatedAt.UTC(),
		UpdatedAt:     request.UpdatedAt.UTC(),
		MergedAt:      utcPointer(request.MergedAt),
		ClosedAt:      utcPointer(request.ClosedAt),
	}
	if record.Status == "" {
		record.Status = string(core.ChangeRequestOpen)
	}
	return record
}

func (r *changeRequestRecord) toDomain() core.AutonomousChangeRequest {
	if r == nil {
		return core.AutonomousChangeRequest{}
	}
	return core.AutonomousChangeRequest{
		ID:           r.ID,
		TenantID:     r.TenantID,
		Repository:   core.RepositoryRef{Owner: r.RepoOwner, Name: r.RepoName},
		BaseBranch:   r.BaseBranch,
		BranchName:   r.BranchName,
		HeadSHA:      r.HeadSHA,
		PRNumber:     r.PRNumber,
		PRURL:        r.PRURL,
		Title:        r.Title,
		Description:  r.Description,
		WorkflowType: core.WorkflowType(r.WorkflowType),
		Status:       core.ChangeRequestStatus(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		MergedAt:     utcPointer(r.MergedAt),
		ClosedAt:     utcPointer(r.ClosedAt),
	}
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil || value.IsZero() {
		return nil
	}
	copied := value.UTC()
	return &copied
}
