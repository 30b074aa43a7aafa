package wire

import (
	"fmt"
	"strings"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// Filter tags, RFC 4511 Section 4.5.1.7.
const (
	TagFilterAnd             ber.Tag = 0
	TagFilterOr              ber.Tag = 1
	TagFilterNot             ber.Tag = 2
	TagFilterEqualityMatch   ber.Tag = 3
	TagFilterSubstrings      ber.Tag = 4
	TagFilterGreaterOrEqual  ber.Tag = 5
	TagFilterLessOrEqual     ber.Tag = 6
	TagFilterPresent         ber.Tag = 7
	TagFilterApproxMatch     ber.Tag = 8
	TagFilterExtensibleMatch ber.Tag = 9
)

// Substring choice tags inside a Substrings filter, RFC 4511 Section 4.5.1.7.2.
const (
	TagSubstringInitial ber.Tag = 0
	TagSubstringAny     ber.Tag = 1
	TagSubstringFinal   ber.Tag = 2
)

// CompileFilter parses an RFC 4515 string filter such as
// "(&(objectClass=person)(cn=alice*))" and returns the pre-encoded
// BER bytes SearchRequest.Filter expects. It supports the standard
// operators (&, |, !), the four comparison forms (=, ~=, >=, <=),
// presence (attr=*), and substring matching (attr=foo*bar).
// Extensible match (":dn:caseIgnoreMatch:=") is not implemented.
func CompileFilter(filter string) ([]byte, error) {
	filter = strings.TrimSpace(filter)
	p, pos, err := compileFilter(filter, 0)
	if err != nil {
		return nil, err
	}
	pos = skipSpace(filter, pos)
	if pos != len(filter) {
		return nil, fmt.Errorf("wire: unexpected trailing input in filter %q at offset %d", filter, pos)
	}
	return p.Bytes(), nil
}

func skipSpace(s string, pos int) int {
	for pos < len(s) && s[pos] == ' ' {
		pos++
	}
	return pos
}

func compileFilter(s string, pos int) (*ber.Packet, int, error) {
	pos = skipSpace(s, pos)
	if pos >= len(s) || s[pos] != '(' {
		return nil, pos, fmt.Errorf("wire: filter %q: expected '(' at offset %d", s, pos)
	}
	pos++

	if pos >= len(s) {
		return nil, pos, fmt.Errorf("wire: filter %q: unexpected end of input", s)
	}

	var p *ber.Packet
	var err error
	switch s[pos] {
	case '&':
		p, pos, err = compileFilterSet(s, pos+1, ber.ClassContext, TagFilterAnd, "And")
	case '|':
		p, pos, err = compileFilterSet(s, pos+1, ber.ClassContext, TagFilterOr, "Or")
	case '!':
		var child *ber.Packet
		child, pos, err = compileFilter(s, pos+1)
		if err != nil {
			return nil, pos, err
		}
		p = ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterNot, nil, "Not")
		p.AppendChild(child)
	default:
		p, pos, err = compileFilterComparison(s, pos)
	}
	if err != nil {
		return nil, pos, err
	}

	pos = skipSpace(s, pos)
	if pos >= len(s) || s[pos] != ')' {
		return nil, pos, fmt.Errorf("wire: filter %q: expected ')' at offset %d", s, pos)
	}
	return p, pos + 1, nil
}

func compileFilterSet(s string, pos int, class ber.Class, tag ber.Tag, desc string) (*ber.Packet, int, error) {
	set := ber.Encode(class, ber.TypeConstructed, tag, nil, desc)
	pos = skipSpace(s, pos)
	for pos < len(s) && s[pos] == '(' {
		child, next, err := compileFilter(s, pos)
		if err != nil {
			return nil, pos, err
		}
		set.AppendChild(child)
		pos = skipSpace(s, next)
	}
	return set, pos, nil
}

// compileFilterComparison handles attr=value, attr~=value, attr>=value,
// attr<=value, attr=*, and attr=initial*any*final substring forms. It
// scans up to the closing ')' that compileFilter's caller expects.
func compileFilterComparison(s string, pos int) (*ber.Packet, int, error) {
	start := pos
	for pos < len(s) && s[pos] != ')' {
		pos++
	}
	if pos >= len(s) {
		return nil, pos, fmt.Errorf("wire: filter %q: unterminated comparison starting at offset %d", s, start)
	}
	expr := s[start:pos]

	op, opLen, attr, value, err := splitComparison(expr)
	if err != nil {
		return nil, pos, fmt.Errorf("wire: filter %q: %w", s, err)
	}
	_ = opLen

	switch op {
	case "=":
		if value == "*" {
			return ber.Encode(ber.ClassContext, ber.TypePrimitive, TagFilterPresent, attr, "Present"), pos, nil
		}
		if strings.Contains(value, "*") {
			return encodeSubstringFilter(attr, value), pos, nil
		}
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterEqualityMatch, nil, "Equality Match")
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr, "Attribute"))
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
		return p, pos, nil
	case "~=":
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterApproxMatch, nil, "Approx Match")
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr, "Attribute"))
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
		return p, pos, nil
	case ">=":
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterGreaterOrEqual, nil, "Greater Or Equal")
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr, "Attribute"))
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
		return p, pos, nil
	case "<=":
		p := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterLessOrEqual, nil, "Less Or Equal")
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr, "Attribute"))
		p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "Value"))
		return p, pos, nil
	default:
		return nil, pos, fmt.Errorf("wire: filter %q: unsupported operator %q", s, op)
	}
}

// splitComparison finds the comparison operator in expr and returns
// the attribute description and value on either side.
func splitComparison(expr string) (op string, opLen int, attr string, value string, err error) {
	for _, candidate := range []string{"~=", ">=", "<="} {
		if i := strings.Index(expr, candidate); i >= 0 {
			return candidate, len(candidate), expr[:i], expr[i+len(candidate):], nil
		}
	}
	if i := strings.Index(expr, "="); i >= 0 {
		return "=", 1, expr[:i], expr[i+1:], nil
	}
	return "", 0, "", "", fmt.Errorf("no comparison operator in %q", expr)
}

func encodeSubstringFilter(attr, value string) *ber.Packet {
	p := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagFilterSubstrings, nil, "Substrings")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attr, "Attribute"))
	seq := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Substrings")

	parts := strings.Split(value, "*")
	for i, part := range parts {
		if part == "" {
			continue
		}
		var tag ber.Tag
		switch {
		case i == 0:
			tag = TagSubstringInitial
		case i == len(parts)-1:
			tag = TagSubstringFinal
		default:
			tag = TagSubstringAny
		}
		seq.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, tag, part, "Substring"))
	}
	p.AppendChild(seq)
	return p
}
