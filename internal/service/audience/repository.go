package audience

import (
	"context"
	"time"

	"github.com/ignite/audience-sync/internal/domain"
	"github.com/ignite/audience-sync/internal/metaads"
)

// Repository defines the data access contract for audiences.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single audience, soft-deleted ones included.
	// Returns ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.Audience, error)

	// List returns audiences that are not soft deleted, newest first.
	List(ctx context.Context, filter ListFilter) ([]domain.Audience, error)

	// ListByType returns live audiences of one type ordered by approximate
	// count, largest first.
	ListByType(ctx context.Context, t domain.AudienceType) ([]domain.Audience, error)

	// Create inserts a new audience. ID, CreatedAt and UpdatedAt are filled in.
	Create(ctx context.Context, a *domain.Audience) error

	// Update applies the non-nil fields and returns the stored row.
	Update(ctx context.Context, id string, u UpdateFields) (*domain.Audience, error)

	// SoftDelete marks the audience deleted and turns auto-sync off.
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// CountPendingFor counts pending members of one audience.
	CountPendingFor(ctx context.Context, audienceID string) (int, error)

	// ListInsights returns insight rows with date_start >= since, newest first.
	ListInsights(ctx context.Context, audienceID string, since time.Time) ([]domain.AudienceInsight, error)
}

// Remote is the ad-platform side of audience management. *metaads.Client
// satisfies it.
type Remote interface {
	ListAudiences(ctx context.Context) ([]metaads.AudienceSummary, error)
	GetAudience(ctx context.Context, audienceID string) (*metaads.AudienceSummary, error)
	CreateCustomAudience(ctx context.Context, input metaads.CustomAudienceInput) (*metaads.CreatedAudience, error)
	CreateLookalikeAudience(ctx context.Context, input metaads.LookalikeInput) (*metaads.CreatedAudience, error)
	UpdateAudience(ctx context.Context, audienceID string, patch metaads.AudiencePatch) error
	DeleteAudience(ctx context.Context, audienceID string) error
}

// ListFilter controls filtering for audience lists.
type ListFilter struct {
	Type     string
	Status   string
	Limit    int
	WithMeta bool
}

// UpdateFields holds the mutable columns of an audience.
// Nil fields are not applied.
type UpdateFields struct {
	Name               *string
	Description        *string
	ClearDescription   bool
	AutoSync           *bool
	SyncFrequencyHours *int
	Status             *domain.AudienceStatus
}
