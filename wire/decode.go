package wire

import (
	"fmt"
	"io"

	ber "github.com/go-asn1-ber/asn1-ber"
)

// ReadMessage reads one full LDAPMessage from r, blocking until a
// complete frame is available, and parses it. A non-nil error here is
// always fatal to the connection: either the stream ended or the bytes
// were not valid BER/LDAP.
func ReadMessage(r io.Reader) (*Message, error) {
	packet, err := ber.ReadPacket(r)
	if err != nil {
		return nil, err
	}
	return ParseMessage(packet)
}

// ParseMessage converts an already-decoded BER packet tree into a
// Message. It is split out from ReadMessage so tests can exercise it
// against hand-built packets without a socket.
func ParseMessage(packet *ber.Packet) (*Message, error) {
	if len(packet.Children) < 2 {
		return nil, fmt.Errorf("wire: LDAPMessage envelope needs at least 2 children, got %d", len(packet.Children))
	}

	idPacket := packet.Children[0]
	id64, ok := idPacket.Value.(int64)
	if !ok {
		return nil, fmt.Errorf("wire: malformed messageID")
	}
	if id64 < 0 || id64 > int64(MaxMessageID) {
		return nil, fmt.Errorf("wire: messageID %d out of range", id64)
	}

	opPacket := packet.Children[1]
	op, err := decodeOp(opPacket)
	if err != nil {
		return nil, err
	}

	msg := &Message{ID: int32(id64), Op: op}
	if len(packet.Children) > 2 {
		msg.Controls = decodeControls(packet.Children[2])
	}
	return msg, nil
}

func decodeOp(p *ber.Packet) (ProtocolOp, error) {
	if p.ClassType != ber.ClassApplication {
		return nil, fmt.Errorf("wire: protocolOp must be APPLICATION class, got %v", p.ClassType)
	}
	switch ber.Tag(p.Tag) {
	case TagBindResponse:
		return decodeBindResponse(p), nil
	case TagSearchResultEntry:
		return decodeSearchResultEntry(p), nil
	case TagSearchResultReference:
		return decodeSearchResultReference(p), nil
	case TagSearchResultDone:
		return SearchResultDone{LDAPResult: decodeLDAPResult(p)}, nil
	case TagModifyResponse:
		return ModifyResponse{LDAPResult: decodeLDAPResult(p)}, nil
	case TagAddResponse:
		return AddResponse{LDAPResult: decodeLDAPResult(p)}, nil
	case TagDelResponse:
		return DelResponse{LDAPResult: decodeLDAPResult(p)}, nil
	case TagModifyDNResponse:
		return ModifyDNResponse{LDAPResult: decodeLDAPResult(p)}, nil
	case TagCompareResponse:
		return CompareResponse{LDAPResult: decodeLDAPResult(p)}, nil
	case TagExtendedResponse:
		return decodeExtendedResponse(p), nil
	default:
		return nil, fmt.Errorf("wire: unsupported response tag %d", p.Tag)
	}
}

// decodeLDAPResult reads the common resultCode/matchedDN/diagnosticMessage
// prefix shared by every *Response PDU.
func decodeLDAPResult(p *ber.Packet) LDAPResult {
	var r LDAPResult
	if len(p.Children) > 0 {
		if v, ok := p.Children[0].Value.(int64); ok {
			r.ResultCode = int(v)
		}
	}
	if len(p.Children) > 1 {
		if v, ok := p.Children[1].Value.(string); ok {
			r.MatchedDN = v
		}
	}
	if len(p.Children) > 2 {
		if v, ok := p.Children[2].Value.(string); ok {
			r.DiagnosticMessage = v
		}
	}
	for i := 3; i < len(p.Children); i++ {
		if c := p.Children[i]; c.ClassType == ber.ClassContext {
			for _, uri := range c.Children {
				if v, ok := uri.Value.(string); ok {
					r.Referral = append(r.Referral, v)
				}
			}
		}
	}
	return r
}

func decodeBindResponse(p *ber.Packet) BindResponse {
	resp := BindResponse{LDAPResult: decodeLDAPResult(p)}
	for _, c := range p.Children {
		if c.ClassType == ber.ClassContext && ber.Tag(c.Tag) == 7 {
			resp.ServerSASLCreds = valueBytes(c)
		}
	}
	return resp
}

func decodeSearchResultEntry(p *ber.Packet) SearchResultEntry {
	var e Entry
	if len(p.Children) > 0 {
		if v, ok := p.Children[0].Value.(string); ok {
			e.DN = v
		}
	}
	if len(p.Children) > 1 {
		for _, attrPacket := range p.Children[1].Children {
			if len(attrPacket.Children) < 2 {
				continue
			}
			name, _ := attrPacket.Children[0].Value.(string)
			var values [][]byte
			for _, v := range attrPacket.Children[1].Children {
				values = append(values, valueBytes(v))
			}
			e.Attributes = append(e.Attributes, Attribute{Type: name, Values: values})
		}
	}
	return SearchResultEntry{Entry: e}
}

func decodeSearchResultReference(p *ber.Packet) SearchResultReference {
	var ref SearchResultReference
	for _, c := range p.Children {
		if v, ok := c.Value.(string); ok {
			ref.URIs = append(ref.URIs, v)
		}
	}
	return ref
}

func decodeExtendedResponse(p *ber.Packet) ExtendedResponse {
	resp := ExtendedResponse{LDAPResult: decodeLDAPResult(p)}
	for _, c := range p.Children {
		if c.ClassType != ber.ClassContext {
			continue
		}
		switch ber.Tag(c.Tag) {
		case TagExtendedResponseName:
			resp.Name = string(valueBytes(c))
		case TagExtendedResponseValue:
			resp.Value = valueBytes(c)
		}
	}
	return resp
}

func decodeControls(p *ber.Packet) []Control {
	var out []Control
	for _, c := range p.Children {
		if len(c.Children) == 0 {
			continue
		}
		ctrl := Control{}
		if v, ok := c.Children[0].Value.(string); ok {
			ctrl.Type = v
		}
		idx := 1
		if idx < len(c.Children) {
			if v, ok := c.Children[idx].Value.(bool); ok {
				ctrl.Criticality = v
				idx++
			}
		}
		if idx < len(c.Children) {
			ctrl.Value = valueBytes(c.Children[idx])
		}
		out = append(out, ctrl)
	}
	return out
}

// DecodePagedResultsControl parses the control-value octet string of a
// PagedResultsControl, RFC 2696.
func DecodePagedResultsControl(value []byte) (PagedResultsControl, error) {
	packet := ber.DecodePacket(value)
	if len(packet.Children) < 2 {
		return PagedResultsControl{}, fmt.Errorf("wire: malformed pagedResultsControl value")
	}
	var c PagedResultsControl
	if v, ok := packet.Children[0].Value.(int64); ok {
		c.Size = int(v)
	}
	c.Cookie = valueBytes(packet.Children[1])
	return c, nil
}

// valueBytes returns the raw octets of a packet regardless of whether
// the decoder populated Value (universal primitive types) or left the
// bytes in Data/ByteValue (context-specific primitives).
func valueBytes(p *ber.Packet) []byte {
	if s, ok := p.Value.(string); ok {
		return []byte(s)
	}
	if p.Data != nil {
		return p.Data.Bytes()
	}
	return p.ByteValue
}
