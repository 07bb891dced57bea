// Package session persists per-session refresh-rotation state in Redis.
//
// Each record holds the id of the one refresh token currently valid for its
// session. Rotation is a Lua compare-and-swap on that id, so concurrent
// refresh calls with the same token have exactly one winner; the loser sees
// ErrJTIMismatch, which callers treat as evidence of token theft.
package session
