// Package auth implements the session lifecycle of the blog platform:
// sign in through an external identity provider, first time username
// registration, short lived access tokens and rotating refresh tokens.
//
// Sessions:
//   - A callback with a known identity opens a session. An unknown identity
//     receives a pending registration token and nothing is persisted until
//     Register consumes it.
//   - Refresh tokens are opaque, stored as SHA-256 hashes, and rotated on
//     every use. Presenting a rotated token again revokes its whole family.
//
// Activity sinks:
//   - SessionService emits an ActivityEvent for logins, registrations,
//     refreshes, logouts and detected reuse. Sinks run best-effort, errors are
//     logged and never fail the request.
//
// HTTP:
//   - SessionController mounts the /auth routes on a go-router server and
//     Bearer returns the middleware that guards API routes.
package auth
