// Package testutil provides fixtures shared by the package tests: a
// controllable clock, PKCE pairs, random strings and ready-made clients and
// authorization codes.
package testutil
