package testserver

import "github.com/tgerk/node-ldapjs/wire"

// Success builds a minimal successful LDAPResult for id with the given
// response PDU constructor, e.g. Success(id, func(r wire.LDAPResult)
// wire.ProtocolOp { return wire.BindResponse{LDAPResult: r} }).
func Success(id int32, wrap func(wire.LDAPResult) wire.ProtocolOp) *wire.Message {
	return &wire.Message{ID: id, Op: wrap(wire.LDAPResult{ResultCode: 0})}
}

// Result builds a response PDU carrying an arbitrary result code.
func Result(id int32, code int, wrap func(wire.LDAPResult) wire.ProtocolOp) *wire.Message {
	return &wire.Message{ID: id, Op: wrap(wire.LDAPResult{ResultCode: code})}
}

// SearchEntries builds the SearchResultEntry / SearchResultDone
// sequence a simple unpaged search response needs.
func SearchEntries(id int32, entries []wire.Entry) []*wire.Message {
	msgs := make([]*wire.Message, 0, len(entries)+1)
	for _, e := range entries {
		msgs = append(msgs, &wire.Message{ID: id, Op: wire.SearchResultEntry{Entry: e}})
	}
	msgs = append(msgs, &wire.Message{ID: id, Op: wire.SearchResultDone{LDAPResult: wire.LDAPResult{ResultCode: 0}}})
	return msgs
}
