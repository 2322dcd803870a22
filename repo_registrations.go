package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// Registrations tracks pending registration tokens that were already used
// to create an account.
type Registrations interface {
	IsConsumed(ctx context.Context, jti string) (bool, error)
	IsConsumedTx(ctx context.Context, tx bun.IDB, jti string) (bool, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, record *ConsumedRegistration) error
	Purge(ctx context.Context, before time.Time) (int, error)
}

type registrations struct {
	db *bun.DB
}

var _ Registrations = (*registrations)(nil)

// NewRegistrationsRepository creates the consumed registrations store
func NewRegistrationsRepository(db *bun.DB) Registrations {
	return &registrations{db: db}
}

func (r *registrations) IsConsumed(ctx context.Context, jti string) (bool, error) {
	return r.IsConsumedTx(ctx, r.db, jti)
}

func (r *registrations) IsConsumedTx(ctx context.Context, tx bun.IDB, jti string) (bool, error) {
	if strings.TrimSpace(jti) == "" {
		return false, nil
	}

	exists, err := tx.NewSelect().
		Model((*ConsumedRegistration)(nil)).
		Where("?TableAlias.jti = ?", jti).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to check consumed registration")
	}
	return exists, nil
}

// ConsumeTx records the jti as spent. A second insert of the same jti is
// reported as ErrUnauthorized.
func (r *registrations) ConsumeTx(ctx context.Context, tx bun.IDB, record *ConsumedRegistration) error {
	if record == nil || strings.TrimSpace(record.JTI) == "" {
		return ErrUnauthorized
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return ErrUnauthorized
		}
		return errors.Wrap(err, errors.CategoryInternal, "failed to consume registration")
	}
	return nil
}

// Purge removes records whose token would have expired before the cutoff
func (r *registrations) Purge(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*ConsumedRegistration)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to purge consumed registrations")
	}

	affected, _ := res.RowsAffected()
	return int(affected), nil
}
