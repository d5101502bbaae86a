// Package storage persists intakebot's collections.
//
// A collection is a single JSON array document (requests, registered
// usernames). Every operation reads or replaces the whole document; there is
// no partial update and no cross-collection transaction.
package storage
