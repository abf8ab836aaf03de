// Package config loads the single configuration source for the queue core.
//
// Every scoring constant, scan cap, retry limit and delivery window comes
// from a Config value. Files are YAML, validated against an embedded CUE
// schema before decoding so that unknown keys and out-of-range values are
// rejected with a position rather than silently ignored. Values absent from
// the file keep their Default.
package config
