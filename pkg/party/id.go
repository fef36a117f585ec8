// Package party defines the participant identifiers shared by every
// protocol in this module: DKG, FROST signing, and the HTTP orchestrators
// that drive them.
package party

import (
	"fmt"
	"sort"
)

// ID identifies a single node within a deployment. Nodes are numbered
// [0, N) at deployment time; the x-coordinate at which the ciphersuites
// evaluate a party's share is always ID+1 (see Scalar), so that it never collides with
// the zero scalar used internally by the curve arithmetic.
type ID uint32

// Scalar returns the curve-independent integer used to evaluate a party's
// point on a secret-sharing polynomial. It is always the 1-based
// participant identifier: node index 0 evaluates at x=1, and so on.
func (id ID) Scalar() uint64 {
	return uint64(id) + 1
}

func (id ID) String() string {
	return fmt.Sprintf("node-%d", uint32(id))
}

// IDSlice is a sortable, de-duplicatable collection of participant IDs.
type IDSlice []ID

func (s IDSlice) Len() int           { return len(s) }
func (s IDSlice) Less(i, j int) bool { return s[i] < s[j] }
func (s IDSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }

// Sorted returns a sorted copy. Ciphersuites must consume participant data
// in a canonical order so that DKG finalize is deterministic regardless of
// the order packages arrived in over HTTP.
func (s IDSlice) Sorted() IDSlice {
	out := make(IDSlice, len(s))
	copy(out, s)
	sort.Sort(out)
	return out
}

// Contains reports whether id is present in the slice.
func (s IDSlice) Contains(id ID) bool {
	for _, x := range s {
		if x == id {
			return true
		}
	}
	return false
}

// Without returns a copy of s with self removed. Used by the DKG state
// machine to drop a node's own entry before it is an input to part2/part3.
func (s IDSlice) Without(self ID) IDSlice {
	out := make(IDSlice, 0, len(s))
	for _, x := range s {
		if x != self {
			out = append(out, x)
		}
	}
	return out
}

// Roster builds the canonical [0, N) roster for a deployment of n nodes.
func Roster(n int) IDSlice {
	out := make(IDSlice, n)
	for i := 0; i < n; i++ {
		out[i] = ID(i)
	}
	return out
}

// Equal reports whether two ID sets contain exactly the same members,
// order notwithstanding.
func Equal(a, b IDSlice) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := a.Sorted(), b.Sorted()
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
