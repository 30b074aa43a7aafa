package wire

import (
	"testing"

	ber "github.com/go-asn1-ber/asn1-ber"
)

func TestCompileFilterEquality(t *testing.T) {
	data, err := CompileFilter("(cn=alice)")
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	p := ber.DecodePacket(data)
	if p.Tag != TagFilterEqualityMatch {
		t.Fatalf("Tag = %v, want EqualityMatch", p.Tag)
	}
	if len(p.Children) != 2 || p.Children[0].Value.(string) != "cn" || p.Children[1].Value.(string) != "alice" {
		t.Fatalf("unexpected children: %+v", p.Children)
	}
}

func TestCompileFilterPresent(t *testing.T) {
	data, err := CompileFilter("(objectClass=*)")
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	p := ber.DecodePacket(data)
	if p.Tag != TagFilterPresent || p.Data.String() != "objectClass" {
		t.Fatalf("unexpected present filter: tag=%v value=%q", p.Tag, p.Data.String())
	}
}

func TestCompileFilterSubstring(t *testing.T) {
	data, err := CompileFilter("(cn=al*ce)")
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	p := ber.DecodePacket(data)
	if p.Tag != TagFilterSubstrings {
		t.Fatalf("Tag = %v, want Substrings", p.Tag)
	}
	subs := p.Children[1].Children
	if len(subs) != 2 || subs[0].Tag != TagSubstringInitial || subs[1].Tag != TagSubstringFinal {
		t.Fatalf("unexpected substrings: %+v", subs)
	}
}

func TestCompileFilterAndOr(t *testing.T) {
	data, err := CompileFilter("(&(objectClass=person)(|(cn=alice)(cn=bob)))")
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	p := ber.DecodePacket(data)
	if p.Tag != TagFilterAnd || len(p.Children) != 2 {
		t.Fatalf("unexpected top-level filter: tag=%v children=%d", p.Tag, len(p.Children))
	}
	or := p.Children[1]
	if or.Tag != TagFilterOr || len(or.Children) != 2 {
		t.Fatalf("unexpected nested Or filter: tag=%v children=%d", or.Tag, len(or.Children))
	}
}

func TestCompileFilterNot(t *testing.T) {
	data, err := CompileFilter("(!(cn=alice))")
	if err != nil {
		t.Fatalf("CompileFilter: %v", err)
	}
	p := ber.DecodePacket(data)
	if p.Tag != TagFilterNot || len(p.Children) != 1 {
		t.Fatalf("unexpected Not filter: tag=%v children=%d", p.Tag, len(p.Children))
	}
}

func TestCompileFilterRejectsMalformedInput(t *testing.T) {
	cases := []string{"", "(cn=alice", "cn=alice)", "(cn)"}
	for _, c := range cases {
		if _, err := CompileFilter(c); err == nil {
			t.Errorf("CompileFilter(%q) = nil error, want one", c)
		}
	}
}
