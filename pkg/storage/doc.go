// Package storage holds the shared persistence configuration and the
// concrete implementations of the billing engine's Store contract. The
// postgres subpackage is the production store; the memory subpackage is a
// drop-in replacement for tests and local development.
package storage
