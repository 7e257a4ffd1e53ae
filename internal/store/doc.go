// Package store provides the encrypted persistent stores for users and
// sessions.
//
// # Persistence Model
//
// Each store keeps its full state in memory and mirrors it to a single
// encrypted file (AES-256-GCM, key held in an owner-only key file). Every
// mutation flushes the complete state atomically (write-to-temp-then-rename)
// before the mutation reports success. A failed flush rolls the in-memory
// change back and surfaces ErrPersistence, so memory and disk never diverge
// for longer than one operation and no caller is told a write succeeded when
// it did not.
//
// A store file that exists but cannot be decrypted is reported as
// ErrCorruptStore at open time. It is never silently treated as empty.
//
// # Concurrency
//
// Stores are safe for concurrent use: readers may run concurrently, writers
// are exclusive per store. The stores are the sole writers of their records;
// callers receive copies, never aliases into store-owned state.
//
// # Sessions
//
// Sessions are logically deactivated lazily when a validation discovers them
// expired, and physically removed by the periodic Sweep. Deactivation is
// terminal: once IsActive is false no path flips it back.
package store
