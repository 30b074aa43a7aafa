// Package wire is the thin LDAP-PDU layer on top of the generic BER
// codec (github.com/go-asn1-ber/asn1-ber). It knows RFC 4511's tag
// numbers and message shapes; it does not implement BER itself.
package wire

// Well-known OIDs used by the core client.
const (
	OIDPagedResults = "1.2.840.113556.1.4.319"
	OIDStartTLS     = "1.3.6.1.4.1.1466.20037"
)

// MinMessageID and MaxMessageID bound the LDAP MessageID domain per
// RFC 4511 Section 4.1.1 (1..2^31-1).
const (
	MinMessageID int32 = 1
	MaxMessageID int32 = 1<<31 - 1
)
