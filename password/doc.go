// Package password implements Argon2id password hashing with PHC-encoded
// output. It owns hashing and verification only; password policy lives with
// the caller, and plaintext is never stored or logged.
package password
