// Package id generates 128-bit, time-ordered identifiers for broker records.
// IDs sort lexicographically by creation time, so they double as storage keys.
// User-visible entities (workflows, conversations, tasks without an explicit
// job id) use UUIDs instead; this package is for internal sequencing.
package id
