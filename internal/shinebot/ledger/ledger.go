// Package ledger provides the textual key/value tables that persist per-user
// bot state (last-issue timestamps, interaction counts).
//
// A table is a plain text file with one "key : value" pair per line, e.g.
//
//	7234091823 : 2024-05-11T09:30:00Z
//	8120343811 : 4
//
// Malformed lines never fail a read; they are dropped so that a damaged file
// degrades to "entry absent" instead of taking the bot down.
package ledger

import (
	"context"
	"strings"
)

// Separator splits a line into key and value.
const Separator = " : "

// Records is an ordered key/value mapping. Iteration and serialization follow
// insertion order so that Save output is deterministic and a load/save cycle
// reproduces the file byte for byte.
type Records struct {
	keys   []string
	values map[string]string
}

// NewRecords returns an empty Records.
func NewRecords() *Records {
	return &Records{values: make(map[string]string)}
}

// Get returns the value stored under key and whether it is present.
func (r *Records) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Set stores value under key. An existing key keeps its original position;
// a new key is appended. This is what prevents duplicate lines from ever
// being written.
func (r *Records) Set(key, value string) {
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Len returns the number of entries.
func (r *Records) Len() int {
	return len(r.keys)
}

// Keys returns the keys in insertion order. The returned slice must not be
// modified by the caller.
func (r *Records) Keys() []string {
	return r.keys
}

// Parse decodes the textual table format. Lines without a well-formed
// "key : value" split (missing separator, empty key, or empty value) are
// silently dropped. When the input somehow contains a duplicate key, the
// last occurrence wins.
func Parse(data string) *Records {
	records := NewRecords()
	for _, line := range strings.Split(data, "\n") {
		parts := strings.Split(line, Separator)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		records.Set(parts[0], parts[1])
	}
	return records
}

// Format serializes records back to the textual table format, one pair per
// line in insertion order, without a trailing newline.
func Format(r *Records) string {
	var b strings.Builder
	for i, key := range r.keys {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(key)
		b.WriteString(Separator)
		b.WriteString(r.values[key])
	}
	return b.String()
}

// Table is the storage abstraction for one ledger table. Implementations:
// FileTable (production default), MemTable (tests), and the SQLite-backed
// table in the store package.
type Table interface {
	// Load reads the whole table. A missing backing store is not an error;
	// it loads as an empty Records.
	Load(ctx context.Context) (*Records, error)

	// Save overwrites the whole table with the given records.
	Save(ctx context.Context, records *Records) error

	// Update runs fn on the current table contents and persists the result,
	// all under the table's write serialization (a held mutex, or one
	// transaction for SQLite). Every read-modify-write cycle must go through
	// Update: a separate Load, mutate, Save sequence lets a concurrent writer
	// slip in between and one of the two saves then clobbers the other's
	// entries. When fn returns an error, nothing is written.
	Update(ctx context.Context, fn func(*Records) error) error
}
