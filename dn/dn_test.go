package dn

import "testing"

func TestSplitRDN(t *testing.T) {
	cases := []struct {
		in           string
		wantRDN      string
		wantSuperior string
	}{
		{"cn=alice,ou=people,dc=example,dc=com", "cn=alice", "ou=people,dc=example,dc=com"},
		{"cn=alice", "cn=alice", ""},
		{`cn=Smith\, John,ou=people,dc=example,dc=com`, `cn=Smith\, John`, "ou=people,dc=example,dc=com"},
		{"", "", ""},
	}
	for _, c := range cases {
		rdn, superior := SplitRDN(c.in)
		if rdn != c.wantRDN || superior != c.wantSuperior {
			t.Errorf("SplitRDN(%q) = (%q, %q), want (%q, %q)", c.in, rdn, superior, c.wantRDN, c.wantSuperior)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := []string{"", "cn=alice", "cn=alice,ou=people,dc=example,dc=com"}
	for _, dn := range valid {
		if err := Validate(dn); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", dn, err)
		}
	}

	invalid := []string{"alice", "cn=alice,people", "cn=alice,,dc=com"}
	for _, dn := range invalid {
		if err := Validate(dn); err == nil {
			t.Errorf("Validate(%q) = nil, want an error", dn)
		}
	}
}
