// Package middleware exposes gin middleware adapters for the credential core.
//
// # Guards
//
//   - [RequireAuth] — resolves the caller from the access token cookie or
//     Authorization header and injects the identity into the request context.
//   - [CSRF] — double-submit cookie check for state-changing methods.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself; all decisions are delegated to
// Engine.ValidateAccess.
package middleware
