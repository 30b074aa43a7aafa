package wire

import ber "github.com/go-asn1-ber/asn1-ber"

// ProtocolOp application tags, RFC 4511 Section 4.
const (
	TagBindRequest           ber.Tag = 0
	TagBindResponse          ber.Tag = 1
	TagUnbindRequest         ber.Tag = 2
	TagSearchRequest         ber.Tag = 3
	TagSearchResultEntry     ber.Tag = 4
	TagSearchResultDone      ber.Tag = 5
	TagModifyRequest         ber.Tag = 6
	TagModifyResponse        ber.Tag = 7
	TagAddRequest            ber.Tag = 8
	TagAddResponse           ber.Tag = 9
	TagDelRequest            ber.Tag = 10
	TagDelResponse           ber.Tag = 11
	TagModifyDNRequest       ber.Tag = 12
	TagModifyDNResponse      ber.Tag = 13
	TagCompareRequest        ber.Tag = 14
	TagCompareResponse       ber.Tag = 15
	TagAbandonRequest        ber.Tag = 16
	TagSearchResultReference ber.Tag = 19
	TagExtendedRequest       ber.Tag = 23
	TagExtendedResponse      ber.Tag = 24
)

// Context-specific tags used inside a BindRequest's authentication choice.
const (
	TagAuthSimple ber.Tag = 0
)

// Context-specific tags used inside an ExtendedRequest/Response.
const (
	TagExtendedRequestName   ber.Tag = 0
	TagExtendedRequestValue  ber.Tag = 1
	TagExtendedResponseName  ber.Tag = 10
	TagExtendedResponseValue ber.Tag = 11
)

// Context-specific tag for the optional Controls sequence on any
// LDAPMessage envelope.
const TagControls ber.Tag = 0

// ModifyDN request context tag for the optional newSuperior.
const TagNewSuperior ber.Tag = 0

// Search scope and deref-alias enumerations, RFC 4511 Section 4.5.1.
type Scope int

const (
	ScopeBaseObject   Scope = 0
	ScopeSingleLevel  Scope = 1
	ScopeWholeSubtree Scope = 2
)

type DerefAliases int

const (
	NeverDerefAliases   DerefAliases = 0
	DerefInSearching    DerefAliases = 1
	DerefFindingBaseObj DerefAliases = 2
	DerefAlways         DerefAliases = 3
)

// ModifyOp mirrors RFC 4511 Section 4.6's change operation enumeration.
type ModifyOp int

const (
	ModifyAdd     ModifyOp = 0
	ModifyDelete  ModifyOp = 1
	ModifyReplace ModifyOp = 2
)
