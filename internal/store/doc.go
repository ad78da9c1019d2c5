// Package store persists relay state in SQLite.
//
// # Data Models
//
//   - Agent: a chat agent and whether it routes through the support platform
//   - ConversationMapping: durable link from a session or email to a remote conversation
//   - RelayEvent: transcript entry for an agent message delivered to browsers
//
// SQLiteStore implements every interface in a single struct. Tests that do
// not need SQL semantics can use NewMockStore instead.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (no cgo) with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The schema is created on open. Timestamps are stored as fixed-width UTC
// text so ORDER BY on them is chronological.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateAgent: agent id already taken
//
// All methods accept context.Context for cancellation support.
package store
