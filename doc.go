// Package identity manages the account lifecycle of an internal HR tool:
// sign-up, email confirmation, admin approval gating, password
// authentication, token refresh and revocation, and password recovery.
//
// Records:
//   - Credential holds the email, bcrypt hash, verification and reset token
//     state, and the set of active refresh tokens. It is the login principal.
//   - Profile holds the employment-facing data (role, department) and the
//     approval status an admin flips through an external workflow. The two
//     are linked 1:1 and created together at sign-up.
//
// Tokens:
//   - TokenService mints short-lived signed access tokens and longer-lived
//     refresh tokens; the role rides inside the token so the HTTP gate never
//     touches storage. Refresh tokens rotate on every use.
//   - Verification and reset links use opaque crypto-random tokens with
//     their own expiries, unrelated to the signed tokens.
//
// The middleware/guard subpackage provides the request gate: 401 for a
// missing or invalid token, 403 for a role outside the allow-list.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter the service invokes on
//     sign-up, sign-in, refresh, sign-out, confirmation, and password
//     events. Sinks run best-effort (errors are logged) so you can forward
//     to a database or queue without blocking authentication.
package identity
