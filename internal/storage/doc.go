// Package storage persists the relay's forward history.
//
// Storage is optional: when disabled the bot runs fully in-memory, which
// matches the original deployment. Two drivers exist: a dependency-free
// file backend (JSON Lines) and a SQLite backend behind the "sqlite" build
// tag.
package storage
