package sitecache

import (
	"errors"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Protobuf field numbers of a stored Response:
//
//	message Response {
//	  int64  status      = 1;
//	  string status_text = 2;
//	  repeated Header header = 3; // message Header { string name = 1; repeated string values = 2; }
//	  bytes  body        = 4;
//	  string url         = 5;
//	}
const (
	fieldStatus     protowire.Number = 1
	fieldStatusText protowire.Number = 2
	fieldHeader     protowire.Number = 3
	fieldBody       protowire.Number = 4
	fieldURL        protowire.Number = 5

	fieldHeaderName   protowire.Number = 1
	fieldHeaderValues protowire.Number = 2
)

var errWireType = errors.New("sitecache: unexpected protobuf wire type")

// MarshalWire appends r in protobuf wire format. Header names are sorted so
// equal responses encode to equal bytes.
func (r *Response) MarshalWire(b []byte) ([]byte, error) {
	if r.Status != 0 {
		b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(int64(r.Status)))
	}
	if r.StatusText != "" {
		b = protowire.AppendTag(b, fieldStatusText, protowire.BytesType)
		b = protowire.AppendString(b, r.StatusText)
	}
	names := make([]string, 0, len(r.Header))
	for k := range r.Header {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		var h []byte
		h = protowire.AppendTag(h, fieldHeaderName, protowire.BytesType)
		h = protowire.AppendString(h, k)
		for _, v := range r.Header[k] {
			h = protowire.AppendTag(h, fieldHeaderValues, protowire.BytesType)
			h = protowire.AppendString(h, v)
		}
		b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
		b = protowire.AppendBytes(b, h)
	}
	if len(r.Body) > 0 {
		b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	if r.URL != "" {
		b = protowire.AppendTag(b, fieldURL, protowire.BytesType)
		b = protowire.AppendString(b, r.URL)
	}
	return b, nil
}

// UnmarshalWire replaces r with the message in b. Unknown fields are skipped.
func (r *Response) UnmarshalWire(b []byte) error {
	*r = Response{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch num {
		case fieldStatus:
			if typ != protowire.VarintType {
				return errWireType
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Status = int(int64(v))
			b = b[n:]
		case fieldStatusText, fieldURL, fieldBody, fieldHeader:
			if typ != protowire.BytesType {
				return errWireType
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			switch num {
			case fieldStatusText:
				r.StatusText = string(v)
			case fieldURL:
				r.URL = string(v)
			case fieldBody:
				r.Body = append([]byte(nil), v...)
			case fieldHeader:
				name, values, err := unmarshalHeader(v)
				if err != nil {
					return err
				}
				if r.Header == nil {
					r.Header = make(map[string][]string)
				}
				r.Header[name] = append(r.Header[name], values...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func unmarshalHeader(b []byte) (string, []string, error) {
	var name string
	var values []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeString(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldHeaderName:
			name = v
		case fieldHeaderValues:
			values = append(values, v)
		}
	}
	return name, values, nil
}
