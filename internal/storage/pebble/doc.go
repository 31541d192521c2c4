// Package pebblestore wraps a Pebble database with the fsync policy and the
// small key/value helpers shared by the broker, the task store, and the
// workflow registry persistence. All durable state of an ibrain process lives
// in one Pebble directory.
package pebblestore
