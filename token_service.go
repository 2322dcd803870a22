package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-auth-session/middleware/jwtware"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenConfig is the explicit configuration handed to a TokenService.
type TokenConfig struct {
	AccessSecret    []byte
	PendingSecret   []byte
	AccessTokenTTL  time.Duration
	PendingTokenTTL time.Duration
	Issuer          string
	Audience        []string
}

// TokenConfigFromConfig builds a TokenConfig from a Config.
func TokenConfigFromConfig(cfg Config) TokenConfig {
	return TokenConfig{
		AccessSecret:    []byte(cfg.GetAccessTokenSecret()),
		PendingSecret:   []byte(cfg.GetPendingTokenSecret()),
		AccessTokenTTL:  cfg.GetAccessTokenTTL(),
		PendingTokenTTL: cfg.GetPendingTokenTTL(),
		Issuer:          cfg.GetIssuer(),
		Audience:        cfg.GetAudience(),
	}
}

// TokenService signs and verifies access and pending registration tokens.
// The two kinds use separate secrets, audiences and type claims so one can
// never be accepted as the other.
type TokenService struct {
	accessSecret    []byte
	pendingSecret   []byte
	accessTTL       time.Duration
	pendingTTL      time.Duration
	issuer          string
	accessAudience  jwt.ClaimStrings
	pendingAudience jwt.ClaimStrings
	clock           Clock
	logger          Logger
}

var _ jwtware.TokenValidator = (*TokenService)(nil)

// TokenServiceOption customizes a TokenService.
type TokenServiceOption func(*TokenService)

// WithTokenClock sets the clock used to stamp and verify tokens.
func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenService) {
		ts.clock = normalizeClock(clock)
	}
}

// WithTokenLogger sets the logger.
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, opts ...TokenServiceOption) (*TokenService, error) {
	if len(cfg.AccessSecret) < MinSecretLength || len(cfg.PendingSecret) < MinSecretLength {
		return nil, ErrSigningMisconfigured
	}

	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = DefaultAccessTokenTTL
	}

	if cfg.PendingTokenTTL <= 0 {
		cfg.PendingTokenTTL = DefaultPendingTokenTTL
	}

	accessAud := make(jwt.ClaimStrings, 0, len(cfg.Audience))
	pendingAud := make(jwt.ClaimStrings, 0, len(cfg.Audience)+1)
	for _, aud := range cfg.Audience {
		accessAud = append(accessAud, aud)
		pendingAud = append(pendingAud, aud+pendingAudienceSuffix)
	}
	if len(pendingAud) == 0 {
		pendingAud = append(pendingAud, strings.TrimPrefix(pendingAudienceSuffix, ":"))
	}

	ts := &TokenService{
		accessSecret:    cfg.AccessSecret,
		pendingSecret:   cfg.PendingSecret,
		accessTTL:       cfg.AccessTokenTTL,
		pendingTTL:      cfg.PendingTokenTTL,
		issuer:          cfg.Issuer,
		accessAudience:  accessAud,
		pendingAudience: pendingAud,
		clock:           systemClock,
		logger:          defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	return ts, nil
}

// AccessTokenTTL returns the configured access token lifetime.
func (ts *TokenService) AccessTokenTTL() time.Duration {
	return ts.accessTTL
}

// PendingTokenTTL returns the configured pending registration lifetime.
func (ts *TokenService) PendingTokenTTL() time.Duration {
	return ts.pendingTTL
}

// IssueAccessToken encodes the account id, public id and username. The
// output is deterministic for a fixed clock apart from the jti.
func (ts *TokenService) IssueAccessToken(account *Account) (string, error) {
	if account == nil || account.ID == 0 {
		return "", errors.New("account is required to issue an access token", errors.CategoryInternal)
	}

	now := ts.clock()
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   account.PublicID.String(),
			Audience:  ts.accessAudience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
		},
		AID:  account.ID,
		PID:  account.PublicID.String(),
		Name: account.Username,
		Type: tokenTypeAccess,
	}

	return ts.sign(claims, ts.accessSecret)
}

// VerifyAccessToken checks signature, issuer, audience, type and expiry.
// It never consults storage.
func (ts *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ts.parse(tokenString, claims, ts.accessSecret, ts.accessAudience); err != nil {
		return nil, err
	}

	if claims.Type != tokenTypeAccess || claims.AID == 0 {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

// Validate implements jwtware.TokenValidator.
func (ts *TokenService) Validate(tokenString string) (jwtware.AccessClaims, error) {
	return ts.VerifyAccessToken(tokenString)
}

// IssuePendingRegistrationToken encodes a verified external identity that
// has no local account yet.
func (ts *TokenService) IssuePendingRegistrationToken(provider, subjectID, email string) (string, error) {
	if provider == "" || subjectID == "" || email == "" {
		return "", ErrInvalidIdentity
	}

	now := ts.clock()
	claims := &PendingRegistrationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   provider + ":" + subjectID,
			Audience:  ts.pendingAudience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.pendingTTL)),
		},
		Provider:  provider,
		SubjectID: subjectID,
		Email:     email,
		Type:      tokenTypePendingRegistration,
	}

	return ts.sign(claims, ts.pendingSecret)
}

// VerifyPendingRegistrationToken returns the identity bound to a pending
// registration token.
func (ts *TokenService) VerifyPendingRegistrationToken(tokenString string) (*PendingRegistrationClaims, error) {
	claims := &PendingRegistrationClaims{}
	if err := ts.parse(tokenString, claims, ts.pendingSecret, ts.pendingAudience); err != nil {
		return nil, err
	}

	if claims.Type != tokenTypePendingRegistration ||
		claims.ID == "" || claims.Provider == "" || claims.SubjectID == "" || claims.Email == "" {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}

func (ts *TokenService) sign(claims jwt.Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrSigningMisconfigured
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedString, err := token.SignedString(secret)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signedString, nil
}

func (ts *TokenService) parse(tokenString string, claims jwt.Claims, secret []byte, audience jwt.ClaimStrings) error {
	if strings.TrimSpace(tokenString) == "" {
		return ErrTokenMalformed
	}

	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.clock),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(audience...))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Warn("token service rejected unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, parserOptions...)

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenMalformed):
			return ErrTokenMalformed
		default:
			ts.logger.Debug("token verification failed", "error", err)
			return ErrTokenInvalid
		}
	}

	if !token.Valid {
		return ErrTokenInvalid
	}

	return nil
}
