// Package util provides small helpers shared by the authorization server
// packages.
//
// Key utilities:
//   - SafeTruncate: truncates secrets so only a prefix reaches the logs
//   - ParseScope / FormatScope: convert between the space-delimited wire
//     form of an OAuth scope and a de-duplicated slice
//   - ScopesSubset: checks a requested scope set against an allowed set
package util
