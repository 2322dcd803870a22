package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const refreshTokenBytes = 32

// RefreshTokens persists opaque refresh tokens by hash and implements
// rotation with reuse detection.
type RefreshTokens interface {
	Issue(ctx context.Context, accountID int64, opts ...IssueOption) (string, *RefreshToken, error)
	IssueTx(ctx context.Context, tx bun.IDB, accountID int64, opts ...IssueOption) (string, *RefreshToken, error)
	Validate(ctx context.Context, raw string) (*RefreshToken, error)
	ValidateTx(ctx context.Context, tx bun.IDB, raw string) (*RefreshToken, error)
	Rotate(ctx context.Context, raw string, opts ...IssueOption) (*RotationResult, error)
	RotateTx(ctx context.Context, tx bun.IDB, raw string, opts ...IssueOption) (*RotationResult, error)
	Revoke(ctx context.Context, raw string, reason RevokeReason) error
	RevokeTx(ctx context.Context, tx bun.IDB, raw string, reason RevokeReason) error
	RevokeAll(ctx context.Context, accountID int64, reason RevokeReason) (int, error)
	RevokeAllTx(ctx context.Context, tx bun.IDB, accountID int64, reason RevokeReason) (int, error)
	RevokeFamily(ctx context.Context, familyID uuid.UUID, reason RevokeReason) (int, error)
	RevokeFamilyTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID, reason RevokeReason) (int, error)
	PurgeExpired(ctx context.Context, before time.Time) (int, error)
}

// RotationResult describes the outcome of a rotation. When Reused is set
// the presented token had already been rotated and its family was revoked.
type RotationResult struct {
	Raw      string
	Token    *RefreshToken
	Previous *RefreshToken
	Reused   bool
	Revoked  int
}

type issueOptions struct {
	familyID  uuid.UUID
	parentID  *uuid.UUID
	expiresAt time.Time
	client    *ClientInfo
}

// IssueOption configures a refresh token at issue time
type IssueOption func(*issueOptions)

// WithFamily places the token in an existing rotation family
func WithFamily(familyID uuid.UUID) IssueOption {
	return func(o *issueOptions) {
		o.familyID = familyID
	}
}

// WithParent records the token this one replaces
func WithParent(parentID uuid.UUID) IssueOption {
	return func(o *issueOptions) {
		id := parentID
		o.parentID = &id
	}
}

// WithExpiresAt overrides the absolute expiry
func WithExpiresAt(t time.Time) IssueOption {
	return func(o *issueOptions) {
		o.expiresAt = t
	}
}

// WithClientInfo records the client that requested the token
func WithClientInfo(client ClientInfo) IssueOption {
	return func(o *issueOptions) {
		c := client
		o.client = &c
	}
}

type refreshTokens struct {
	repository.Repository[*RefreshToken]
	db      *bun.DB
	ttl     time.Duration
	idleTTL time.Duration
	clock   Clock
}

var _ RefreshTokens = (*refreshTokens)(nil)

// RefreshTokensOption customizes the refresh token store
type RefreshTokensOption func(*refreshTokens)

// WithRefreshTokenTTL sets the absolute lifetime of a rotation family
func WithRefreshTokenTTL(ttl time.Duration) RefreshTokensOption {
	return func(r *refreshTokens) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithRefreshTokenIdleTTL sets the idle window. Zero disables it.
func WithRefreshTokenIdleTTL(idle time.Duration) RefreshTokensOption {
	return func(r *refreshTokens) {
		if idle >= 0 {
			r.idleTTL = idle
		}
	}
}

// WithRefreshTokensClock sets the clock
func WithRefreshTokensClock(clock Clock) RefreshTokensOption {
	return func(r *refreshTokens) {
		r.clock = normalizeClock(clock)
	}
}

// NewRefreshTokensRepository creates the refresh token store
func NewRefreshTokensRepository(db *bun.DB, opts ...RefreshTokensOption) RefreshTokens {
	repo := repository.NewRepository[*RefreshToken](db, repository.ModelHandlers[*RefreshToken]{
		NewRecord: func() *RefreshToken { return &RefreshToken{} },
		GetID: func(record *RefreshToken) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *RefreshToken, id uuid.UUID) {
			if record != nil {
				record.ID = id
			}
		},
		GetIdentifier: func() string {
			return "token_hash"
		},
	})

	store := &refreshTokens{
		Repository: repo,
		db:         db,
		ttl:        DefaultRefreshTokenTTL,
		idleTTL:    DefaultRefreshTokenIdleTTL,
		clock:      systemClock,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

// HashRefreshToken returns the storage digest for a raw refresh token
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRawRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate refresh token")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (r *refreshTokens) Issue(ctx context.Context, accountID int64, opts ...IssueOption) (string, *RefreshToken, error) {
	return r.IssueTx(ctx, r.db, accountID, opts...)
}

func (r *refreshTokens) IssueTx(ctx context.Context, tx bun.IDB, accountID int64, opts ...IssueOption) (string, *RefreshToken, error) {
	if accountID == 0 {
		return "", nil, errors.New("account id is required to issue a refresh token", errors.CategoryInternal)
	}

	options := &issueOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	raw, err := newRawRefreshToken()
	if err != nil {
		return "", nil, err
	}

	now := r.clock()
	record := &RefreshToken{
		ID:         uuid.New(),
		AccountID:  accountID,
		TokenHash:  HashRefreshToken(raw),
		FamilyID:   options.familyID,
		ParentID:   options.parentID,
		IssuedAt:   now,
		LastUsedAt: now,
		ExpiresAt:  options.expiresAt,
	}

	if record.FamilyID == uuid.Nil {
		record.FamilyID = uuid.New()
	}

	if record.ExpiresAt.IsZero() {
		record.ExpiresAt = now.Add(r.ttl)
	}

	if options.client != nil {
		record.UserAgent = options.client.UserAgent
		record.IPAddress = options.client.IPAddress
	}

	record, err = r.Repository.CreateTx(ctx, tx, record)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.CategoryInternal, "failed to store refresh token")
	}

	return raw, record, nil
}

func (r *refreshTokens) Validate(ctx context.Context, raw string) (*RefreshToken, error) {
	return r.ValidateTx(ctx, r.db, raw)
}

// ValidateTx returns the record for an active token and nil when the token
// is unknown, revoked or expired.
func (r *refreshTokens) ValidateTx(ctx context.Context, tx bun.IDB, raw string) (*RefreshToken, error) {
	record, err := r.findTx(ctx, tx, raw)
	if err != nil || record == nil {
		return nil, err
	}

	if !record.IsActive(r.clock(), r.idleTTL) {
		return nil, nil
	}

	return record, nil
}

func (r *refreshTokens) Rotate(ctx context.Context, raw string, opts ...IssueOption) (*RotationResult, error) {
	return r.RotateTx(ctx, r.db, raw, opts...)
}

// RotateTx revokes the presented token and issues its successor in the
// same family. Presenting an already rotated token revokes the family and
// returns ErrRefreshTokenReused together with a result describing it.
func (r *refreshTokens) RotateTx(ctx context.Context, tx bun.IDB, raw string, opts ...IssueOption) (*RotationResult, error) {
	current, err := r.findTx(ctx, tx, raw)
	if err != nil {
		return nil, err
	}

	if current == nil {
		return nil, ErrRefreshTokenInvalid
	}

	if current.WasRotated() {
		revoked, err := r.RevokeFamilyTx(ctx, tx, current.FamilyID, RevokeReuseDetected)
		if err != nil {
			return nil, err
		}
		return &RotationResult{
			Previous: current,
			Reused:   true,
			Revoked:  revoked,
		}, ErrRefreshTokenReused
	}

	now := r.clock()
	if !current.IsActive(now, r.idleTTL) {
		return nil, ErrRefreshTokenInvalid
	}

	res, err := tx.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked_at = ?", now).
		Set("revoked_reason = ?", RevokeRotated).
		Set("last_used_at = ?", now).
		Where("id = ?", current.ID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to rotate refresh token")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ErrRefreshTokenInvalid
	}

	issueOpts := []IssueOption{
		WithFamily(current.FamilyID),
		WithParent(current.ID),
		WithExpiresAt(current.ExpiresAt),
		WithClientInfo(ClientInfo{
			UserAgent: current.UserAgent,
			IPAddress: current.IPAddress,
		}),
	}

	next, token, err := r.IssueTx(ctx, tx, current.AccountID, append(issueOpts, opts...)...)
	if err != nil {
		return nil, err
	}

	current.RevokedAt = &now
	current.RevokedReason = RevokeRotated
	current.LastUsedAt = now

	return &RotationResult{
		Raw:      next,
		Token:    token,
		Previous: current,
	}, nil
}

func (r *refreshTokens) Revoke(ctx context.Context, raw string, reason RevokeReason) error {
	return r.RevokeTx(ctx, r.db, raw, reason)
}

// RevokeTx revokes a single token. Unknown and already revoked tokens are
// ignored.
func (r *refreshTokens) RevokeTx(ctx context.Context, tx bun.IDB, raw string, reason RevokeReason) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	_, err := r.revokeTx(ctx, tx, reason, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("token_hash = ?", HashRefreshToken(raw))
	})
	return err
}

func (r *refreshTokens) RevokeAll(ctx context.Context, accountID int64, reason RevokeReason) (int, error) {
	return r.RevokeAllTx(ctx, r.db, accountID, reason)
}

func (r *refreshTokens) RevokeAllTx(ctx context.Context, tx bun.IDB, accountID int64, reason RevokeReason) (int, error) {
	return r.revokeTx(ctx, tx, reason, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("account_id = ?", accountID)
	})
}

func (r *refreshTokens) RevokeFamily(ctx context.Context, familyID uuid.UUID, reason RevokeReason) (int, error) {
	return r.RevokeFamilyTx(ctx, r.db, familyID, reason)
}

func (r *refreshTokens) RevokeFamilyTx(ctx context.Context, tx bun.IDB, familyID uuid.UUID, reason RevokeReason) (int, error) {
	return r.revokeTx(ctx, tx, reason, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("family_id = ?", familyID)
	})
}

// PurgeExpired deletes tokens whose absolute expiry is before the cutoff
func (r *refreshTokens) PurgeExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := r.db.NewDelete().
		Model((*RefreshToken)(nil)).
		Where("expires_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to purge refresh tokens")
	}

	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (r *refreshTokens) revokeTx(ctx context.Context, tx bun.IDB, reason RevokeReason, where func(*bun.UpdateQuery) *bun.UpdateQuery) (int, error) {
	q := tx.NewUpdate().
		Model((*RefreshToken)(nil)).
		Set("revoked_at = ?", r.clock()).
		Set("revoked_reason = ?", reason).
		Where("revoked_at IS NULL")

	res, err := where(q).Exec(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CategoryInternal, "failed to revoke refresh tokens").
			WithMetadata(map[string]any{
				"reason": reason,
			})
	}

	affected, _ := res.RowsAffected()
	return int(affected), nil
}

func (r *refreshTokens) findTx(ctx context.Context, tx bun.IDB, raw string) (*RefreshToken, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	record, err := r.Repository.GetByIdentifierTx(ctx, tx, HashRefreshToken(raw))
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load refresh token")
	}

	return record, nil
}
