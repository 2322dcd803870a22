package auth

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Accounts() Accounts
	RefreshTokens() RefreshTokens
	Registrations() Registrations
}

// RepositoryManagerOption customizes the manager
type RepositoryManagerOption func(*mngr)

// WithRefreshTokenPolicy sets the refresh token lifetimes
func WithRefreshTokenPolicy(ttl, idle time.Duration) RepositoryManagerOption {
	return func(m *mngr) {
		m.refreshOpts = append(m.refreshOpts,
			WithRefreshTokenTTL(ttl),
			WithRefreshTokenIdleTTL(idle),
		)
	}
}

// WithRepositoryClock sets the clock shared by all repositories
func WithRepositoryClock(clock Clock) RepositoryManagerOption {
	return func(m *mngr) {
		m.accountOpts = append(m.accountOpts, WithAccountsClock(clock))
		m.refreshOpts = append(m.refreshOpts, WithRefreshTokensClock(clock))
	}
}

type mngr struct {
	db            *bun.DB
	accounts      Accounts
	refreshTokens RefreshTokens
	registrations Registrations

	accountOpts []AccountsOption
	refreshOpts []RefreshTokensOption
}

func NewRepositoryManager(db *bun.DB, opts ...RepositoryManagerOption) RepositoryManager {
	m := &mngr{db: db}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.accounts = NewAccountsRepository(db, m.accountOpts...)
	m.refreshTokens = NewRefreshTokensRepository(db, m.refreshOpts...)
	m.registrations = NewRegistrationsRepository(db)

	return m
}

func (m *mngr) Validate() error {
	if m.accounts == nil {
		return errors.New("repository accounts should be initialized")
	}

	if m.refreshTokens == nil {
		return errors.New("repository refreshTokens should be initialized")
	}

	if m.registrations == nil {
		return errors.New("repository registrations should be initialized")
	}

	return nil
}

func (m *mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *mngr) Accounts() Accounts {
	return m.accounts
}

func (m *mngr) RefreshTokens() RefreshTokens {
	return m.refreshTokens
}

func (m *mngr) Registrations() Registrations {
	return m.registrations
}
