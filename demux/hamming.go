package demux

// Index expansion runs over the full call alphabet, N included, so an
// index read with a no-call still matches its sample.
var alphabetWithN = []byte{'A', 'C', 'G', 'T', 'N'}

// StringSet is a set of index strings.
type StringSet map[string]struct{}

// Contains reports whether s is in the set.
func (set StringSet) Contains(s string) bool {
	_, ok := set[s]
	return ok
}

// Intersects reports whether the two sets share an element.
func (set StringSet) Intersects(other StringSet) bool {
	if len(other) < len(set) {
		set, other = other, set
	}
	for s := range set {
		if other.Contains(s) {
			return true
		}
	}
	return false
}

// SingletonSet returns the set holding only s.
func SingletonSet(s string) StringSet {
	return StringSet{s: struct{}{}}
}

// HammingSet returns the input set closed under one more substitution:
// every member plus every string differing from a member in exactly one
// position, over the alphabet ACGTN. Applying it r times to a singleton
// yields the full Hamming ball of radius r around the seed. Lengths are
// preserved; insertions and deletions are not considered.
func HammingSet(set StringSet) StringSet {
	expanded := make(StringSet, len(set)*(1+4))
	buf := []byte(nil)
	for s := range set {
		expanded[s] = struct{}{}
		buf = append(buf[:0], s...)
		for i := 0; i < len(buf); i++ {
			orig := buf[i]
			for _, c := range alphabetWithN {
				if c == orig {
					continue
				}
				buf[i] = c
				expanded[string(buf)] = struct{}{}
			}
			buf[i] = orig
		}
	}
	return expanded
}
