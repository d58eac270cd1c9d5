// Package policy holds access policies: the key fragments granted under each
// policy identifier, from grant until revoke.
package policy

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ID identifies one granted policy. It is a random 128-bit value in UUID form.
type ID string

// KeyFragment is one share of a split re-encryption key. Its contents are opaque.
type KeyFragment []byte

// Capsule is the encapsulated key material a reencryption request applies to.
type Capsule []byte

// CapsuleFragment is the output of re-encrypting a Capsule under one KeyFragment.
type CapsuleFragment []byte

// Record is a snapshot of a granted policy.
type Record struct {
	ID        ID
	Fragments []KeyFragment
	GrantedAt time.Time
}

// FragmentCount returns N, the number of fragments held by the policy.
func (r Record) FragmentCount() int {
	return len(r.Fragments)
}

func (r Record) clone() Record {
	return Record{ID: r.ID, Fragments: cloneFragments(r.Fragments), GrantedAt: r.GrantedAt}
}

func cloneFragments(in []KeyFragment) []KeyFragment {
	out := make([]KeyFragment, len(in))
	for i, f := range in {
		out[i] = append(KeyFragment(nil), f...)
	}
	return out
}

// FragmentDigest returns a short hex digest of f for log lines. Key material
// itself is never logged.
func FragmentDigest(f KeyFragment) string {
	sum := blake2b.Sum256(f)
	return hex.EncodeToString(sum[:8])
}
