package helpers

import (
	"bytes"
	"fmt"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/migadu/filter-contentstrings/consts"
)

// ParsedHeader is the structured view of an accumulated message that the
// commit phase inspects.
type ParsedHeader struct {
	header mail.Header
}

// ParseHeader reads the header block of raw. Only the header is parsed; the
// body is never decoded. The header block has no size limit. Unknown charsets
// and transfer encodings are tolerated. When the header is damaged, the fields
// that are still well formed are kept and the rest are dropped. raw is
// malformed only when its header block yields no field at all.
func ParseHeader(raw []byte) (*ParsedHeader, error) {
	entity, err := message.ReadWithOptions(bytes.NewReader(raw), &message.ReadOptions{MaxHeaderBytes: -1})
	if entity != nil && (err == nil || message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)) {
		if entity.Header.Fields().Len() == 0 {
			return nil, fmt.Errorf("%w: no header fields", consts.ErrMalformedMessage)
		}
		return &ParsedHeader{header: mail.Header{Header: entity.Header}}, nil
	}

	h, ok := salvageHeader(raw)
	if !ok {
		return nil, fmt.Errorf("%w: %v", consts.ErrMalformedMessage, err)
	}
	return &ParsedHeader{header: mail.Header{Header: h}}, nil
}

// Subject returns the decoded Subject field, or nil if the message has none.
// Encoded words that cannot be decoded are returned verbatim.
func (p *ParsedHeader) Subject() *string {
	if !p.header.Has("Subject") {
		return nil
	}
	subject, err := p.header.Subject()
	if err != nil {
		subject = p.header.Get("Subject")
	}
	return &subject
}

// ExtractSubject parses raw and returns its optional Subject text.
func ExtractSubject(raw []byte) (*string, error) {
	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err
	}
	return h.Subject(), nil
}

type rawField struct {
	key   string
	value []byte
}

// salvageHeader scans the header block of raw line by line, unfolding
// continuation lines. A line that is not "name: value" is dropped together
// with its continuation lines.
func salvageHeader(raw []byte) (message.Header, bool) {
	var (
		fields  []rawField
		current *rawField
	)

	for len(raw) > 0 {
		var line []byte
		if i := bytes.IndexByte(raw, '\n'); i >= 0 {
			line, raw = raw[:i], raw[i+1:]
		} else {
			line, raw = raw, nil
		}
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			break
		}

		if line[0] == ' ' || line[0] == '\t' {
			if current != nil {
				current.value = append(current.value, line...)
			}
			continue
		}

		current = nil
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 || !validFieldName(line[:colon]) {
			continue
		}
		fields = append(fields, rawField{
			key:   string(line[:colon]),
			value: append([]byte(nil), line[colon+1:]...),
		})
		current = &fields[len(fields)-1]
	}

	if len(fields) == 0 {
		return message.Header{}, false
	}

	// Add prepends, so walk backwards to keep message order for Get.
	var h message.Header
	for i := len(fields) - 1; i >= 0; i-- {
		h.Add(fields[i].key, string(bytes.TrimSpace(fields[i].value)))
	}
	return h, true
}

// validFieldName reports whether name is made of printable US-ASCII
// characters other than colon, as RFC 5322 requires.
func validFieldName(name []byte) bool {
	for _, c := range name {
		if c < 33 || c > 126 {
			return false
		}
	}
	return true
}
