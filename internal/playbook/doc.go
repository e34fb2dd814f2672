// Package playbook provides the data model for the playbook automation engine.
//
// This package contains type definitions and their parsing only. All other
// internal packages import playbook; playbook imports nothing internal. This
// keeps the model the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Definitions are read-only to the engine. The engine never mutates a
//     playbook's definition, it only appends Observations.
//   - Graphs may contain cycles. Nothing here detects or rejects them.
//   - Links that reference missing nodes are kept as-is so the executor can
//     fault them explicitly instead of skipping them silently.
//   - All JSON tags use snake_case.
package playbook
