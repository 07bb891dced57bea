// Package httpapi mounts the credential protocol on a gin router.
//
// It owns everything HTTP: route layout, request body validation, cookie
// issuance and clearing, per-route rate limit windows, and the mapping from
// engine errors to status codes. Protocol decisions stay in the Engine; a
// handler here never touches Redis or the user store directly.
package httpapi
