// Package dn implements the minimal distinguished-name handling this
// client needs: RDN splitting for ModifyDN and a syntax sanity check
// for strictDN validation. Full schema-aware DN parsing is out of
// scope.
package dn

import (
	"fmt"
	"strings"
)

// SplitRDN separates a DN into its leading RDN and the remaining
// superior DN, per the unescaped-comma convention of RFC 4514. It does
// not unescape or canonicalize attribute values; it only finds the
// boundary between the first RDN and the rest.
func SplitRDN(fullDN string) (rdn string, superior string) {
	idx := firstUnescapedComma(fullDN)
	if idx < 0 {
		return fullDN, ""
	}
	return fullDN[:idx], strings.TrimLeft(fullDN[idx+1:], " ")
}

func firstUnescapedComma(s string) int {
	inQuotes := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++ // skip escaped character
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return i
			}
		}
	}
	return -1
}

// Validate performs a minimal syntax check used when Options.StrictDN
// is true: the empty DN is accepted, and otherwise every RDN component
// must contain an '=' separating attribute type from value.
func Validate(fullDN string) error {
	if fullDN == "" {
		return nil // the root DSE / empty base DN is valid
	}
	for _, rdn := range splitAll(fullDN) {
		if !strings.Contains(rdn, "=") {
			return fmt.Errorf("dn: invalid RDN %q in %q: missing '='", rdn, fullDN)
		}
	}
	return nil
}

func splitAll(fullDN string) []string {
	var parts []string
	rest := fullDN
	for rest != "" {
		var rdn string
		rdn, rest = SplitRDN(rest)
		parts = append(parts, strings.TrimSpace(rdn))
	}
	return parts
}
