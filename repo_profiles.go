package access

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// ProfileRepository is the profile store backed by the profiles table.
type ProfileRepository interface {
	ProfileStore

	SaveProfile(ctx context.Context, profile *Profile) (*Profile, error)
	SaveProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)
	ListProfiles(ctx context.Context, role ProfileRole) ([]*Profile, error)
	DeleteProfile(ctx context.Context, id string) error
}

type profiles struct {
	db  bun.IDB
	now func() time.Time
}

var _ ProfileRepository = (*profiles)(nil)

// NewProfileRepository returns a ProfileRepository over db.
func NewProfileRepository(db bun.IDB) ProfileRepository {
	return &profiles{db: db, now: time.Now}
}

// GetProfileByID returns ErrProfileNotFound when id has no record.
func (r *profiles) GetProfileByID(ctx context.Context, id string) (*Profile, error) {
	return r.getProfile(ctx, r.db, id)
}

func (r *profiles) getProfile(ctx context.Context, db bun.IDB, id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, sentinelWithCause(ErrProfileNotFound, nil, map[string]any{"id": id})
	}

	record := &Profile{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinelWithCause(ErrProfileNotFound, nil, map[string]any{"id": id})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to load profile").
			WithMetadata(map[string]any{"id": id})
	}

	record.EnsureDefaults()
	return record, nil
}

func (r *profiles) SaveProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	return r.SaveProfileTx(ctx, r.db, profile)
}

// SaveProfileTx inserts or updates the profile keyed by id.
func (r *profiles) SaveProfileTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error) {
	record := profile.Clone()
	record.EnsureDefaults()
	if record != nil {
		record.Role = strings.ToLower(strings.TrimSpace(record.Role))
		record.SubscriptionStatus = strings.ToLower(strings.TrimSpace(record.SubscriptionStatus))
	}

	if err := record.Validate(); err != nil {
		return nil, err
	}

	now := r.now()
	record.UpdatedAt = &now
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT (id) DO UPDATE").
		Set("role = EXCLUDED.role").
		Set("subscription_status = EXCLUDED.subscription_status").
		Set("full_name = EXCLUDED.full_name").
		Set("email = EXCLUDED.email").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to save profile").
			WithMetadata(map[string]any{"id": record.ID})
	}

	return r.getProfile(ctx, tx, record.ID)
}

// ListProfiles returns every profile, or only those with role when set.
func (r *profiles) ListProfiles(ctx context.Context, role ProfileRole) ([]*Profile, error) {
	var records []*Profile
	q := r.db.NewSelect().Model(&records).OrderExpr("?TableAlias.id ASC")
	if role = strings.TrimSpace(role); role != "" {
		q = q.Where("?TableAlias.role = ?", role)
	}

	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "unable to list profiles")
	}

	for _, p := range records {
		p.EnsureDefaults()
	}
	return records, nil
}

func (r *profiles) DeleteProfile(ctx context.Context, id string) error {
	res, err := r.db.NewDelete().
		Model((*Profile)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "unable to delete profile").
			WithMetadata(map[string]any{"id": id})
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinelWithCause(ErrProfileNotFound, nil, map[string]any{"id": id})
	}
	return nil
}
