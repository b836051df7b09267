package sqlgen

import (
	"sort"
	"strings"
)

// PropagateHierarchies computes every relationship-chain prefix contained in
// the given fields. With pruneLeaves, the final segment of each field is
// dropped first, since it names a column rather than a join hop:
// "a.b.c.d" contributes "a", "a.b" and "a.b.c".
//
// The result is deduplicated and lexicographically sorted; parents always
// precede their children. The function is pure, so repeated calls with the
// same input yield the same output.
func PropagateHierarchies(fields []string, pruneLeaves bool) []string {
	set := map[string]struct{}{}
	for _, field := range fields {
		segments := strings.Split(field, ".")
		if pruneLeaves {
			segments = segments[:len(segments)-1]
		}
		for i := 1; i <= len(segments); i++ {
			set[strings.Join(segments[:i], ".")] = struct{}{}
		}
	}
	prefixes := make([]string, 0, len(set))
	for p := range set {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	return prefixes
}

// parentPrefix splits a prefix into its parent prefix (empty for single-hop
// prefixes) and its final segment.
func parentPrefix(prefix string) (parent, last string) {
	i := strings.LastIndex(prefix, ".")
	if i < 0 {
		return "", prefix
	}
	return prefix[:i], prefix[i+1:]
}

// join is one compiled LEFT JOIN line.
type join struct {
	relatedTable string
	alias        string
	leftRef      string
	rightRef     string
}

func (j join) String() string {
	return "LEFT JOIN '" + j.relatedTable + "' AS '" + j.alias + "' ON " +
		j.leftRef + " = " + j.rightRef
}
