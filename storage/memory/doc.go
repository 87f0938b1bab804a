// Package memory provides the in-memory credential store.
//
// Store implements ClientStore, UserStore, FlowStore and TokenStore with a
// single sync.RWMutex. Every check-then-mutate operation (insert-if-absent,
// consume authorization code, consume refresh token, revoke) runs entirely
// under the write lock, so concurrent exchanges of the same code or refresh
// token cannot both succeed.
//
// Expiry is evaluated lazily against the time passed in by the caller. There
// is no background goroutine; expired entries are pruned opportunistically
// on insert, or explicitly with DeleteExpired.
//
// Values are copied on the way in and out, so callers never share a pointer
// with the store.
//
// Example usage:
//
//	store := memory.New()
//	srv, err := server.New(store, store, store, store, signer, config, logger)
package memory
