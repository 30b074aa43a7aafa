package wire

import (
	"fmt"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// EncodeMessage builds the full LDAPMessage envelope: SEQUENCE {
// messageID, protocolOp, controls OPTIONAL }.
func EncodeMessage(id int32, op ProtocolOp, controls []Control) (*ber.Packet, error) {
	envelope := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "LDAP Message")
	envelope.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(id), "MessageID"))

	opPacket, err := encodeOp(op)
	if err != nil {
		return nil, err
	}
	envelope.AppendChild(opPacket)

	if len(controls) > 0 {
		envelope.AppendChild(encodeControls(controls))
	}
	return envelope, nil
}

func encodeOp(op ProtocolOp) (*ber.Packet, error) {
	switch v := op.(type) {
	case BindRequest:
		return encodeBindRequest(v), nil
	case UnbindRequest:
		return ber.Encode(ber.ClassApplication, ber.TypePrimitive, TagUnbindRequest, nil, "Unbind Request"), nil
	case SearchRequest:
		return encodeSearchRequest(v), nil
	case ModifyRequest:
		return encodeModifyRequest(v), nil
	case AddRequest:
		return encodeAddRequest(v), nil
	case DelRequest:
		p := ber.Encode(ber.ClassApplication, ber.TypePrimitive, TagDelRequest, v.DN, "Del Request")
		return p, nil
	case ModifyDNRequest:
		return encodeModifyDNRequest(v), nil
	case CompareRequest:
		return encodeCompareRequest(v), nil
	case AbandonRequest:
		return ber.Encode(ber.ClassApplication, ber.TypePrimitive, TagAbandonRequest, int64(v.MessageID), "Abandon Request"), nil
	case ExtendedRequest:
		return encodeExtendedRequest(v), nil
	default:
		return nil, fmt.Errorf("wire: unsupported protocol op %T", op)
	}
}

func encodeBindRequest(r BindRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagBindRequest, nil, "Bind Request")
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(r.Version), "Version"))
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.Name, "Name"))
	auth := ber.Encode(ber.ClassContext, ber.TypePrimitive, TagAuthSimple, string(r.Password), "Simple Auth")
	p.AppendChild(auth)
	return p
}

func encodeSearchRequest(r SearchRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagSearchRequest, nil, "Search Request")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.BaseDN, "Base DN"))
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(r.Scope), "Scope"))
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(r.DerefAliases), "Deref Aliases"))
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(r.SizeLimit), "Size Limit"))
	p.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(r.TimeLimit), "Time Limit"))
	p.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, r.TypesOnly, "Types Only"))

	if len(r.Filter) > 0 {
		filterPacket := ber.DecodePacket(r.Filter)
		p.AppendChild(filterPacket)
	} else {
		// default: (objectClass=*) as a present filter, RFC 4511 Section 4.5.1.7.7.
		present := ber.Encode(ber.ClassContext, ber.TypePrimitive, 7, "objectClass", "Present")
		p.AppendChild(present)
	}

	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, a := range r.Attributes {
		attrs.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a, "Attribute"))
	}
	p.AppendChild(attrs)
	return p
}

func encodeModifyRequest(r ModifyRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagModifyRequest, nil, "Modify Request")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "DN"))
	changes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Changes")
	for _, c := range r.Changes {
		change := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Change")
		change.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(c.Operation), "Operation"))
		change.AppendChild(encodeAttribute(c.Attribute))
		changes.AppendChild(change)
	}
	p.AppendChild(changes)
	return p
}

func encodeAddRequest(r AddRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagAddRequest, nil, "Add Request")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "DN"))
	attrs := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attributes")
	for _, a := range r.Attributes {
		attrs.AppendChild(encodeAttribute(a))
	}
	p.AppendChild(attrs)
	return p
}

func encodeAttribute(a Attribute) *ber.Packet {
	p := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Attribute")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, a.Type, "Type"))
	vals := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "Values")
	for _, v := range a.Values {
		vals.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(v), "Value"))
	}
	p.AppendChild(vals)
	return p
}

func encodeModifyDNRequest(r ModifyDNRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagModifyDNRequest, nil, "ModifyDN Request")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "DN"))
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.NewRDN, "New RDN"))
	p.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, r.DeleteOldRDN, "Delete Old RDN"))
	if r.NewSuperior != "" {
		p.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, TagNewSuperior, r.NewSuperior, "New Superior"))
	}
	return p
}

func encodeCompareRequest(r CompareRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagCompareRequest, nil, "Compare Request")
	p.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.DN, "DN"))
	ava := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "AVA")
	ava.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, r.Type, "Type"))
	ava.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(r.Value), "Value"))
	p.AppendChild(ava)
	return p
}

func encodeExtendedRequest(r ExtendedRequest) *ber.Packet {
	p := ber.Encode(ber.ClassApplication, ber.TypeConstructed, TagExtendedRequest, nil, "Extended Request")
	p.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, TagExtendedRequestName, r.Name, "Request Name"))
	if r.Value != nil {
		p.AppendChild(ber.Encode(ber.ClassContext, ber.TypePrimitive, TagExtendedRequestValue, string(r.Value), "Request Value"))
	}
	return p
}

func encodeControls(controls []Control) *ber.Packet {
	seq := ber.Encode(ber.ClassContext, ber.TypeConstructed, TagControls, nil, "Controls")
	for _, c := range controls {
		cp := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "Control")
		cp.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, c.Type, "Control Type"))
		if c.Criticality {
			cp.AppendChild(ber.NewBoolean(ber.ClassUniversal, ber.TypePrimitive, ber.TagBoolean, true, "Criticality"))
		}
		if c.Value != nil {
			cp.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.Value), "Control Value"))
		}
		seq.AppendChild(cp)
	}
	return seq
}

// EncodePagedResultsControl serializes a PagedResultsControl into the
// control-value octet string per RFC 2696: SEQUENCE { size INTEGER,
// cookie OCTET STRING }.
func EncodePagedResultsControl(c PagedResultsControl) Control {
	body := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "realSearchControlValue")
	body.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagInteger, int64(c.Size), "Size"))
	body.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, string(c.Cookie), "Cookie"))
	return Control{Type: OIDPagedResults, Value: body.Bytes()}
}
