package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-auth-session/middleware/jwtware"
	"github.com/uptrace/bun"
)

// CallbackType tells the caller what to do after a provider callback
type CallbackType string

const (
	// CallbackLogin the identity has an account and a session was opened
	CallbackLogin CallbackType = "login"
	// CallbackRegister the identity is new and must pick a username
	CallbackRegister CallbackType = "register"
)

// CallbackResult is the outcome of HandleCallback. Login results carry
// session tokens, register results carry the pending registration token.
type CallbackResult struct {
	Type             CallbackType `json:"type"`
	Account          *Account     `json:"account,omitempty"`
	AccessToken      string       `json:"accessToken,omitempty"`
	RefreshToken     string       `json:"-"`
	RefreshExpiresAt time.Time    `json:"-"`
	PendingToken     string       `json:"pendingToken,omitempty"`
	PendingExpiresAt time.Time    `json:"-"`
	Email            string       `json:"email,omitempty"`
}

// SessionResult is an opened or refreshed session
type SessionResult struct {
	Account          *Account  `json:"account"`
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// RegisterInput completes a two phase registration
type RegisterInput struct {
	PendingToken string
	Username     string
	Client       ClientInfo
}

// PendingRegistration is the data a registration form can pre fill
type PendingRegistration struct {
	Email     string    `json:"email"`
	Provider  string    `json:"provider"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionService coordinates sign in, registration, refresh and logout.
type SessionService struct {
	repo     RepositoryManager
	tokens   *TokenService
	logger   Logger
	activity ActivitySink
	clock    Clock
}

// SessionServiceOption customizes a SessionService
type SessionServiceOption func(*SessionService)

// WithSessionLogger sets the logger
func WithSessionLogger(logger Logger) SessionServiceOption {
	return func(s *SessionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionLoggerProvider resolves a named logger from the provider
func WithSessionLoggerProvider(provider LoggerProvider) SessionServiceOption {
	return func(s *SessionService) {
		s.logger = resolveLogger("session", provider, s.logger)
	}
}

// WithSessionActivitySink sets the sink that receives session events
func WithSessionActivitySink(sink ActivitySink) SessionServiceOption {
	return func(s *SessionService) {
		s.activity = normalizeActivitySink(sink)
	}
}

// WithSessionClock sets the clock used for consumed registration records
func WithSessionClock(clock Clock) SessionServiceOption {
	return func(s *SessionService) {
		s.clock = normalizeClock(clock)
	}
}

// NewSessionService creates the session orchestrator
func NewSessionService(repo RepositoryManager, tokens *TokenService, opts ...SessionServiceOption) *SessionService {
	s := &SessionService{
		repo:     repo,
		tokens:   tokens,
		logger:   defLogger{},
		activity: noopActivitySink{},
		clock:    systemClock,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Tokens returns the token codec used by the service
func (s *SessionService) Tokens() *TokenService {
	return s.tokens
}

// HandleCallback resolves a verified external identity. A known identity
// opens a session, an unknown one gets a pending registration token and
// nothing is written.
func (s *SessionService) HandleCallback(ctx context.Context, identity ExternalIdentity) (*CallbackResult, error) {
	provider := strings.TrimSpace(identity.Provider)
	subjectID := strings.TrimSpace(identity.SubjectID)
	email := NormalizeEmail(identity.Email)

	if provider == "" || subjectID == "" || email == "" {
		return nil, ErrInvalidIdentity
	}

	account, err := s.repo.Accounts().FindByExternalIdentity(ctx, provider, subjectID)
	if err != nil {
		return nil, err
	}

	if account == nil {
		pending, err := s.tokens.IssuePendingRegistrationToken(provider, subjectID, email)
		if err != nil {
			return nil, err
		}

		s.record(ctx, ActivityEvent{
			EventType: ActivityEventPendingRegistration,
			Provider:  provider,
			Client:    identity.Client,
		})

		return &CallbackResult{
			Type:             CallbackRegister,
			PendingToken:     pending,
			PendingExpiresAt: s.clock().Add(s.tokens.PendingTokenTTL()),
			Email:            email,
		}, nil
	}

	session, err := s.openSession(ctx, account, identity.Client)
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventLogin,
		AccountID: account.PublicID.String(),
		Provider:  provider,
		Client:    identity.Client,
	})

	return &CallbackResult{
		Type:             CallbackLogin,
		Account:          session.Account,
		AccessToken:      session.AccessToken,
		RefreshToken:     session.RefreshToken,
		RefreshExpiresAt: session.RefreshExpiresAt,
	}, nil
}

// Register creates the account bound to a pending registration token and
// opens its first session. Every step runs in one transaction.
func (s *SessionService) Register(ctx context.Context, input RegisterInput) (*SessionResult, error) {
	claims, err := s.verifyPending(input.PendingToken)
	if err != nil {
		return nil, err
	}

	username := NormalizeUsername(input.Username)
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	var result *SessionResult
	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		consumed, err := s.repo.Registrations().IsConsumedTx(ctx, tx, claims.TokenID())
		if err != nil {
			return err
		}
		if consumed {
			return ErrUnauthorized
		}

		taken, err := s.repo.Accounts().IsUsernameTakenTx(ctx, tx, username)
		if err != nil {
			return err
		}
		if taken {
			return ErrUsernameTaken
		}

		taken, err = s.repo.Accounts().IsEmailTakenTx(ctx, tx, claims.Email)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}

		account, err := s.repo.Accounts().CreateTx(ctx, tx, &Account{
			Provider:          claims.Provider,
			ProviderSubjectID: claims.SubjectID,
			Email:             claims.Email,
			Username:          username,
		})
		if err != nil {
			return err
		}

		if err := s.repo.Registrations().ConsumeTx(ctx, tx, &ConsumedRegistration{
			JTI:        claims.TokenID(),
			AccountID:  account.ID,
			ConsumedAt: s.clock(),
			ExpiresAt:  claims.Expires(),
		}); err != nil {
			return err
		}

		result, err = s.openSessionTx(ctx, tx, account, input.Client)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRegistered,
		AccountID: result.Account.PublicID.String(),
		Provider:  result.Account.Provider,
		Client:    input.Client,
		Metadata: map[string]any{
			"username": result.Account.Username,
		},
	})

	return result, nil
}

// PendingRegistration returns the pre fill data for a pending token that
// is still usable.
func (s *SessionService) PendingRegistration(ctx context.Context, pendingToken string) (*PendingRegistration, error) {
	claims, err := s.verifyPending(pendingToken)
	if err != nil {
		return nil, err
	}

	consumed, err := s.repo.Registrations().IsConsumed(ctx, claims.TokenID())
	if err != nil {
		return nil, err
	}
	if consumed {
		return nil, ErrUnauthorized
	}

	return &PendingRegistration{
		Email:     claims.Email,
		Provider:  claims.Provider,
		ExpiresAt: claims.Expires(),
	}, nil
}

// Refresh rotates the refresh token and returns a new session. It returns
// nil without error when the token cannot be used.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, client ClientInfo) (*SessionResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, nil
	}

	var opts []IssueOption
	if client.UserAgent != "" || client.IPAddress != "" {
		opts = append(opts, WithClientInfo(client))
	}

	var (
		result *SessionResult
		reused *RotationResult
	)

	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rotation, err := s.repo.RefreshTokens().RotateTx(ctx, tx, refreshToken, opts...)
		if err != nil {
			switch {
			case HasTextCode(err, TextCodeRefreshReused):
				reused = rotation
				return nil
			case HasTextCode(err, TextCodeRefreshInvalid):
				return nil
			default:
				return err
			}
		}

		account, err := s.repo.Accounts().GetByIDTx(ctx, tx, rotation.Token.AccountID)
		if err != nil {
			if IsAccountNotFound(err) {
				_, err = s.repo.RefreshTokens().RevokeFamilyTx(ctx, tx, rotation.Token.FamilyID, RevokeAccountMissing)
				return err
			}
			return err
		}

		access, err := s.tokens.IssueAccessToken(account)
		if err != nil {
			return err
		}

		result = &SessionResult{
			Account:          account,
			AccessToken:      access,
			RefreshToken:     rotation.Raw,
			RefreshExpiresAt: rotation.Token.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if reused != nil {
		s.logger.Warn("refresh token reuse detected, family revoked",
			"family_id", reused.Previous.FamilyID.String(),
			"revoked", reused.Revoked,
		)
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventRefreshReuse,
			Client:    client,
			Metadata: map[string]any{
				"family_id": reused.Previous.FamilyID.String(),
				"revoked":   reused.Revoked,
			},
		})
		return nil, nil
	}

	if result == nil {
		return nil, nil
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRefreshed,
		AccountID: result.Account.PublicID.String(),
		Provider:  result.Account.Provider,
		Client:    client,
	})

	return result, nil
}

// Logout revokes a single refresh token. Empty and unknown tokens are
// ignored.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}

	record, err := s.repo.RefreshTokens().Validate(ctx, refreshToken)
	if err != nil {
		return err
	}

	if err := s.repo.RefreshTokens().Revoke(ctx, refreshToken, RevokeLogout); err != nil {
		return err
	}

	if record != nil {
		s.record(ctx, ActivityEvent{
			EventType: ActivityEventLogout,
			Metadata: map[string]any{
				"family_id": record.FamilyID.String(),
			},
		})
	}

	return nil
}

// LogoutEverywhere revokes every active refresh token of the account and
// returns how many were revoked.
func (s *SessionService) LogoutEverywhere(ctx context.Context, accountID int64) (int, error) {
	if accountID == 0 {
		return 0, ErrUnauthorized
	}

	revoked, err := s.repo.RefreshTokens().RevokeAll(ctx, accountID, RevokeAll)
	if err != nil {
		return 0, err
	}

	s.record(ctx, ActivityEvent{
		EventType: ActivityEventRevokeAll,
		Metadata: map[string]any{
			"account": accountID,
			"revoked": revoked,
		},
	})

	return revoked, nil
}

// CurrentAccount loads the account named by verified access claims.
func (s *SessionService) CurrentAccount(ctx context.Context, claims jwtware.AccessClaims) (*Account, error) {
	if claims == nil || claims.AccountID() == 0 {
		return nil, ErrUnauthorized
	}

	account, err := s.repo.Accounts().GetByID(ctx, claims.AccountID())
	if err != nil {
		return nil, err
	}

	if account.PublicID.String() != claims.PublicID() {
		return nil, ErrAccountNotFound
	}

	return account, nil
}

// Purge removes expired refresh tokens and consumed registrations.
func (s *SessionService) Purge(ctx context.Context) (int, int, error) {
	now := s.clock()

	tokens, err := s.repo.RefreshTokens().PurgeExpired(ctx, now)
	if err != nil {
		return 0, 0, err
	}

	registrations, err := s.repo.Registrations().Purge(ctx, now)
	if err != nil {
		return tokens, 0, err
	}

	return tokens, registrations, nil
}

func (s *SessionService) verifyPending(token string) (*PendingRegistrationClaims, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	claims, err := s.tokens.VerifyPendingRegistrationToken(token)
	if err != nil {
		s.logger.Debug("pending registration token rejected", "error", err)
		return nil, ErrUnauthorized
	}

	return claims, nil
}

func (s *SessionService) openSession(ctx context.Context, account *Account, client ClientInfo) (*SessionResult, error) {
	var result *SessionResult
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		result, err = s.openSessionTx(ctx, tx, account, client)
		return err
	})
	return result, err
}

func (s *SessionService) openSessionTx(ctx context.Context, tx bun.IDB, account *Account, client ClientInfo) (*SessionResult, error) {
	raw, record, err := s.repo.RefreshTokens().IssueTx(ctx, tx, account.ID, WithClientInfo(client))
	if err != nil {
		return nil, err
	}

	access, err := s.tokens.IssueAccessToken(account)
	if err != nil {
		return nil, err
	}

	return &SessionResult{
		Account:          account,
		AccessToken:      access,
		RefreshToken:     raw,
		RefreshExpiresAt: record.ExpiresAt,
	}, nil
}

func (s *SessionService) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock()
	}
	if err := s.activity.Record(ctx, event); err != nil {
		s.logger.Warn("failed to record session activity",
			"event", string(event.EventType),
			"error", err,
		)
	}
}
