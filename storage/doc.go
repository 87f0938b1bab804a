// Package storage defines the entities owned by the credential store and the
// interfaces used to persist them.
//
// The interfaces are split by concern:
//   - ClientStore: registered OAuth clients
//   - UserStore: seeded resource owners
//   - FlowStore: authorization codes and their single-use state
//   - TokenStore: the access/refresh token side table used for revocation
//     and introspection
//
// Every operation that checks and then mutates state (insert-if-absent,
// mark-code-used, refresh rotation, revocation) is a single atomic call on
// the store. Callers never read a value and write it back.
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory store for single-instance deployments and tests
//   - storage/mock: function-field mock for injecting failures in tests
package storage
