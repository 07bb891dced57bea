// Package authkit is the session-security core of the takahuman API: dual
// token (access + refresh) credential issuance, refresh-token rotation with
// reuse detection, lazy bulk invalidation via a per-user token version,
// login lockout, and the supporting password hashing and token codec.
//
// The Engine is transport-agnostic. HTTP wiring (cookies, CSRF, rate
// limited endpoints) lives in the httpapi and middleware packages.
package authkit
