package auth

import (
	"context"
	"database/sql"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Accounts resolves external identities to local accounts and creates new
// ones. Storage unique constraints are the authority for uniqueness.
type Accounts interface {
	FindByExternalIdentity(ctx context.Context, provider, subjectID string) (*Account, error)
	FindByExternalIdentityTx(ctx context.Context, tx bun.IDB, provider, subjectID string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error)
	IsUsernameTaken(ctx context.Context, username string) (bool, error)
	IsUsernameTakenTx(ctx context.Context, tx bun.IDB, username string) (bool, error)
	IsEmailTaken(ctx context.Context, email string) (bool, error)
	IsEmailTakenTx(ctx context.Context, tx bun.IDB, email string) (bool, error)
	GetByID(ctx context.Context, id int64) (*Account, error)
	GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error)
	GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Account, error)
	GetByPublicIDTx(ctx context.Context, tx bun.IDB, publicID uuid.UUID) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error)
}

type accounts struct {
	db    *bun.DB
	clock Clock
}

var _ Accounts = (*accounts)(nil)

// AccountsOption customizes the accounts repository
type AccountsOption func(*accounts)

// WithAccountsClock sets the clock used for timestamps
func WithAccountsClock(clock Clock) AccountsOption {
	return func(a *accounts) {
		a.clock = normalizeClock(clock)
	}
}

// NewAccountsRepository creates the bun backed Accounts repository
func NewAccountsRepository(db *bun.DB, opts ...AccountsOption) Accounts {
	repo := &accounts{
		db:    db,
		clock: systemClock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo
}

func (a *accounts) FindByExternalIdentity(ctx context.Context, provider, subjectID string) (*Account, error) {
	return a.FindByExternalIdentityTx(ctx, a.db, provider, subjectID)
}

func (a *accounts) FindByExternalIdentityTx(ctx context.Context, tx bun.IDB, provider, subjectID string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.provider = ? AND ?TableAlias.provider_subject_id = ?", provider, subjectID)
	})
}

func (a *accounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return a.FindByEmailTx(ctx, a.db, email)
}

func (a *accounts) FindByEmailTx(ctx context.Context, tx bun.IDB, email string) (*Account, error) {
	return a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.email = ?", NormalizeEmail(email))
	})
}

func (a *accounts) IsUsernameTaken(ctx context.Context, username string) (bool, error) {
	return a.IsUsernameTakenTx(ctx, a.db, username)
}

func (a *accounts) IsUsernameTakenTx(ctx context.Context, tx bun.IDB, username string) (bool, error) {
	exists, err := tx.NewSelect().
		Model((*Account)(nil)).
		Where("lower(?TableAlias.username) = ?", strings.ToLower(NormalizeUsername(username))).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to check username")
	}
	return exists, nil
}

func (a *accounts) IsEmailTaken(ctx context.Context, email string) (bool, error) {
	return a.IsEmailTakenTx(ctx, a.db, email)
}

func (a *accounts) IsEmailTakenTx(ctx context.Context, tx bun.IDB, email string) (bool, error) {
	exists, err := tx.NewSelect().
		Model((*Account)(nil)).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Exists(ctx)
	if err != nil {
		return false, errors.Wrap(err, errors.CategoryInternal, "failed to check email")
	}
	return exists, nil
}

func (a *accounts) GetByID(ctx context.Context, id int64) (*Account, error) {
	return a.GetByIDTx(ctx, a.db, id)
}

func (a *accounts) GetByIDTx(ctx context.Context, tx bun.IDB, id int64) (*Account, error) {
	account, err := a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.id = ?", id)
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (a *accounts) GetByPublicID(ctx context.Context, publicID uuid.UUID) (*Account, error) {
	return a.GetByPublicIDTx(ctx, a.db, publicID)
}

func (a *accounts) GetByPublicIDTx(ctx context.Context, tx bun.IDB, publicID uuid.UUID) (*Account, error) {
	account, err := a.findOne(ctx, tx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.public_id = ?", publicID)
	})
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (a *accounts) Create(ctx context.Context, account *Account) (*Account, error) {
	return a.CreateTx(ctx, a.db, account)
}

// CreateTx inserts the account. Unique violations are reported as
// conflicts naming the colliding field.
func (a *accounts) CreateTx(ctx context.Context, tx bun.IDB, account *Account) (*Account, error) {
	if account == nil {
		return nil, errors.New("account is required", errors.CategoryBadInput)
	}

	if account.PublicID == uuid.Nil {
		account.PublicID = uuid.New()
	}

	account.Email = NormalizeEmail(account.Email)
	account.Username = NormalizeUsername(account.Username)

	now := a.clock()
	account.CreatedAt = &now
	account.UpdatedAt = &now

	if _, err := tx.NewInsert().
		Model(account).
		Returning("*").
		Exec(ctx); err != nil {
		if conflict := accountConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create account")
	}

	return account, nil
}

func (a *accounts) findOne(ctx context.Context, tx bun.IDB, where func(*bun.SelectQuery) *bun.SelectQuery) (*Account, error) {
	account := &Account{}
	err := where(tx.NewSelect().Model(account)).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to query accounts")
	}
	return account, nil
}

// accountConflict maps a unique violation on the accounts table to the
// matching conflict error. It returns nil for any other error.
func accountConflict(err error) error {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return nil
	}

	constraint = strings.ToLower(constraint)
	switch {
	case strings.Contains(constraint, "identity"), strings.Contains(constraint, "provider"):
		return ErrIdentityTaken
	case strings.Contains(constraint, "username"):
		return ErrUsernameTaken
	case strings.Contains(constraint, "email"):
		return ErrEmailTaken
	default:
		return errors.Wrap(err, errors.CategoryConflict, "account already exists").
			WithCode(errors.CodeConflict)
	}
}
