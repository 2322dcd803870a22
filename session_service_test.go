package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func googleIdentity(subject, email string) ExternalIdentity {
	return ExternalIdentity{
		Provider:  "google",
		SubjectID: subject,
		Email:     email,
		Client: ClientInfo{
			UserAgent: "test-agent",
			IPAddress: "10.0.0.1",
		},
	}
}

func registerAlice(t *testing.T, f *sessionFixture) *SessionResult {
	t.Helper()
	ctx := context.Background()

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "Ana@Example.com"))
	require.NoError(t, err)
	require.Equal(t, CallbackRegister, callback.Type)

	session, err := f.service.Register(ctx, RegisterInput{
		PendingToken: callback.PendingToken,
		Username:     "alice",
	})
	require.NoError(t, err)
	return session
}

func TestHandleCallbackNewIdentityWritesNothing(t *testing.T) {
	f := newSessionFixture(t)

	result, err := f.service.HandleCallback(context.Background(), googleIdentity("sub-123", " Ana@Example.com "))
	require.NoError(t, err)

	assert.Equal(t, CallbackRegister, result.Type)
	assert.NotEmpty(t, result.PendingToken)
	assert.Empty(t, result.AccessToken)
	assert.Empty(t, result.RefreshToken)
	assert.Equal(t, "ana@example.com", result.Email)
	assert.True(t, f.clock.Now().Add(DefaultPendingTokenTTL).Equal(result.PendingExpiresAt))

	assert.Equal(t, 0, f.count(t, (*Account)(nil)))
	assert.Equal(t, 0, f.count(t, (*RefreshToken)(nil)))
	assert.Equal(t, []ActivityEventType{ActivityEventPendingRegistration}, f.activity.types())
}

func TestHandleCallbackRejectsIncompleteIdentity(t *testing.T) {
	f := newSessionFixture(t)

	_, err := f.service.HandleCallback(context.Background(), ExternalIdentity{Provider: "google", SubjectID: "sub-123"})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeInvalidIdentity))
}

func TestRegisterOpensFirstSession(t *testing.T) {
	f := newSessionFixture(t)

	session := registerAlice(t, f)

	require.NotNil(t, session.Account)
	assert.Equal(t, "alice", session.Account.Username)
	assert.Equal(t, "ana@example.com", session.Account.Email)
	assert.Equal(t, "google", session.Account.Provider)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)

	claims, err := f.tokens.VerifyAccessToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.Account.ID, claims.AccountID())

	assert.Equal(t, 1, f.count(t, (*Account)(nil)))
	assert.Equal(t, 1, f.count(t, (*RefreshToken)(nil)))
	assert.Equal(t, 1, f.count(t, (*ConsumedRegistration)(nil)))
}

func TestHandleCallbackKnownIdentityLogsIn(t *testing.T) {
	f := newSessionFixture(t)
	registered := registerAlice(t, f)

	result, err := f.service.HandleCallback(context.Background(), googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	assert.Equal(t, CallbackLogin, result.Type)
	assert.Equal(t, registered.Account.ID, result.Account.ID)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Empty(t, result.PendingToken)

	assert.Equal(t, 1, f.count(t, (*Account)(nil)))
	assert.Equal(t, 2, f.count(t, (*RefreshToken)(nil)), "each device gets its own session")
}

func TestRegisterPendingTokenIsSingleUse(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "alice"})
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "bob"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	_, err = f.service.PendingRegistration(ctx, callback.PendingToken)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))

	assert.Equal(t, 1, f.count(t, (*Account)(nil)))
}

func TestRegisterRejectsExpiredPendingToken(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	f.clock.Advance(DefaultPendingTokenTTL + time.Second)

	_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "alice"})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.Equal(t, 0, f.count(t, (*Account)(nil)))
}

func TestRegisterRejectsInvalidUsername(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	for _, username := range []string{"", "ab", "has space", "this_username_is_far_too_long_to_fit"} {
		_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: username})
		require.Error(t, err, username)
		assert.Equal(t, 400, StatusForError(err), username)
	}

	pending, err := f.service.PendingRegistration(ctx, callback.PendingToken)
	require.NoError(t, err, "a rejected username must not spend the token")
	assert.Equal(t, "ana@example.com", pending.Email)
}

func TestRegisterUsernameTakenIgnoresCase(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	registerAlice(t, f)

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-456", "bob@example.com"))
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "ALICE"})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeUsernameTaken))

	session, err := f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "bob"})
	require.NoError(t, err, "a conflict must not spend the token")
	assert.Equal(t, "bob", session.Account.Username)
}

func TestRegisterEmailTaken(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	registerAlice(t, f)

	callback, err := f.service.HandleCallback(ctx, ExternalIdentity{
		Provider:  "github",
		SubjectID: "gh-1",
		Email:     "ana@example.com",
	})
	require.NoError(t, err)

	_, err = f.service.Register(ctx, RegisterInput{PendingToken: callback.PendingToken, Username: "ana_gh"})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeEmailTaken))
	assert.Equal(t, 409, StatusForError(err))
}

func TestRegisterConcurrentSameUsername(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	first, err := f.service.HandleCallback(ctx, googleIdentity("sub-1", "one@example.com"))
	require.NoError(t, err)
	second, err := f.service.HandleCallback(ctx, googleIdentity("sub-2", "two@example.com"))
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, pending := range []string{first.PendingToken, second.PendingToken} {
		wg.Add(1)
		go func(i int, pending string) {
			defer wg.Done()
			_, errs[i] = f.service.Register(ctx, RegisterInput{PendingToken: pending, Username: "shared"})
		}(i, pending)
	}
	wg.Wait()

	var succeeded, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 1, f.count(t, (*Account)(nil)))
}

func TestPendingRegistrationReturnsPrefill(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	callback, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	pending, err := f.service.PendingRegistration(ctx, callback.PendingToken)
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", pending.Email)
	assert.Equal(t, "google", pending.Provider)
	assert.Equal(t, f.clock.Now().Add(DefaultPendingTokenTTL), pending.ExpiresAt)
	assert.Equal(t, time.UTC, pending.ExpiresAt.Location())

	_, err = f.service.PendingRegistration(ctx, "")
	assert.True(t, IsUnauthorized(err))
}

func TestRefreshRotatesSession(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	f.clock.Advance(time.Minute)

	refreshed, err := f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken)
	assert.NotEqual(t, session.AccessToken, refreshed.AccessToken)
	assert.Equal(t, session.Account.ID, refreshed.Account.ID)
	assert.True(t, session.RefreshExpiresAt.Equal(refreshed.RefreshExpiresAt))
	assert.Contains(t, f.activity.types(), ActivityEventRefreshed)
}

func TestRefreshUnknownOrEmptyTokenReturnsNil(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	result, err := f.service.Refresh(ctx, "", ClientInfo{})
	require.NoError(t, err)
	assert.Nil(t, result)

	result, err = f.service.Refresh(ctx, "unknown-token", ClientInfo{})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	refreshed, err := f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	require.NotNil(t, refreshed)

	replay, err := f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Nil(t, replay)

	legit, err := f.service.Refresh(ctx, refreshed.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Nil(t, legit, "the whole family is revoked after reuse")

	assert.Contains(t, f.activity.types(), ActivityEventRefreshReuse)
}

func TestRefreshReuseLeavesOtherDevices(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	other, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	_, err = f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	_, err = f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(ctx, other.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.NotNil(t, refreshed)
}

func TestLogout(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	require.NoError(t, f.service.Logout(ctx, ""))
	require.NoError(t, f.service.Logout(ctx, "unknown"))

	require.NoError(t, f.service.Logout(ctx, session.RefreshToken))
	require.NoError(t, f.service.Logout(ctx, session.RefreshToken))

	result, err := f.service.Refresh(ctx, session.RefreshToken, ClientInfo{})
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestLogoutEverywhere(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	second, err := f.service.HandleCallback(ctx, googleIdentity("sub-123", "ana@example.com"))
	require.NoError(t, err)

	revoked, err := f.service.LogoutEverywhere(ctx, session.Account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)

	for _, token := range []string{session.RefreshToken, second.RefreshToken} {
		result, err := f.service.Refresh(ctx, token, ClientInfo{})
		require.NoError(t, err)
		assert.Nil(t, result)
	}

	_, err = f.service.LogoutEverywhere(ctx, 0)
	assert.True(t, IsUnauthorized(err))
}

func TestCurrentAccount(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	session := registerAlice(t, f)

	claims, err := f.tokens.VerifyAccessToken(session.AccessToken)
	require.NoError(t, err)

	account, err := f.service.CurrentAccount(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Username)

	_, err = f.service.CurrentAccount(ctx, nil)
	assert.True(t, IsUnauthorized(err))

	claims.PID = "00000000-0000-0000-0000-000000000000"
	_, err = f.service.CurrentAccount(ctx, claims)
	assert.True(t, IsAccountNotFound(err))
}

func TestPurge(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()
	registerAlice(t, f)

	tokens, registrations, err := f.service.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, tokens)
	assert.Equal(t, 0, registrations)

	f.clock.Advance(DefaultRefreshTokenTTL + time.Hour)

	tokens, registrations, err = f.service.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, tokens)
	assert.Equal(t, 1, registrations)
}
