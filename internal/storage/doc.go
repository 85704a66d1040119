package storage

// Package storage persists schedule definitions and their occurrence
// instances.
//
// It currently supports:
//   - A SQLite backend (durable; enforces the (schedule_id, window_index)
//     unique key at the database level)
//   - A memory backend (no setup, same semantics, default driver)
