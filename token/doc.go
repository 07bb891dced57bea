// Package token implements the signed-token codec for the credential
// protocol: short-lived access tokens, long-lived rotating refresh tokens,
// and the out-of-band password-reset and email-verification tokens.
//
// Verification fails closed. Signature, expiry, issuer, audience, and the
// typ discriminator are all checked explicitly; callers receive a single
// ErrInvalidToken regardless of which check failed.
package token
