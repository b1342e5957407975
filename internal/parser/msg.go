package parser

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// MAPI property identifiers read from an Outlook message
const (
	propSubject            uint16 = 0x0037
	propSenderName         uint16 = 0x0C1A
	propSenderEmail        uint16 = 0x0C1F
	propSenderSMTP         uint16 = 0x5D01
	propBody               uint16 = 0x1000
	propBodyHTML           uint16 = 0x1013
	propRecipientType      uint16 = 0x0C15
	propDisplayName        uint16 = 0x3001
	propEmailAddress       uint16 = 0x3003
	propSMTPAddress        uint16 = 0x39FE
	propTypeInteger32      uint16 = 0x0003
	propTypeString8        uint16 = 0x001E
	propTypeUnicode        uint16 = 0x001F
	propTypeBinary         uint16 = 0x0102
	substgPrefix                  = "__substg1.0_"
	recipientPrefix               = "__recip_version1.0_"
	propertiesStream              = "__properties_version1.0"
	recipientPropsHeaderSz        = 8
	propertyEntrySize             = 16
)

// Recipient types stored in PR_RECIPIENT_TYPE
const (
	recipientTo  int32 = 1
	recipientCc  int32 = 2
	recipientBcc int32 = 3
)

type propValue struct {
	typ  uint16
	data []byte
}

type propSet map[uint16]propValue

// str decodes a string property, empty when absent
func (p propSet) str(id uint16) string {
	v, ok := p[id]
	if !ok {
		return ""
	}
	return decodeProp(v)
}

type msgRecipient struct {
	props propSet
	kind  int32
}

// compoundMessage holds the properties of an Outlook message read from its
// compound-document container
type compoundMessage struct {
	props      propSet
	recipients []msgRecipient
}

func decodeMSG(payload []byte) (*NormalizedMessage, error) {
	cm, err := readCompound(payload)
	if err != nil {
		return nil, err
	}
	return cm.normalized(), nil
}

// readCompound collects the top-level and recipient property streams
func readCompound(payload []byte) (*compoundMessage, error) {
	doc, err := mscfb.New(bytes.NewReader(payload))
	if err != nil {
		return nil, malformed("failed to read compound document", err)
	}

	limit := int64(len(payload))
	cm := &compoundMessage{props: propSet{}}
	recipients := map[string]*msgRecipient{}

	for entry, err := doc.Next(); err != io.EOF; entry, err = doc.Next() {
		if err != nil {
			return nil, malformed("failed to read compound document entry", err)
		}

		path := entry.Path
		if len(path) > 0 && path[0] == "Root Entry" {
			path = path[1:]
		}

		switch {
		case len(path) == 0:
			if id, typ, ok := parseStreamName(entry.Name); ok {
				data, err := readEntry(entry, limit)
				if err != nil {
					return nil, err
				}
				cm.props[id] = propValue{typ: typ, data: data}
			}

		case len(path) == 1 && strings.HasPrefix(path[0], recipientPrefix):
			r, ok := recipients[path[0]]
			if !ok {
				r = &msgRecipient{props: propSet{}, kind: recipientTo}
				recipients[path[0]] = r
			}
			if entry.Name == propertiesStream {
				data, err := readEntry(entry, limit)
				if err != nil {
					return nil, err
				}
				if kind, ok := recipientType(data); ok {
					r.kind = kind
				}
				continue
			}
			if id, typ, ok := parseStreamName(entry.Name); ok {
				data, err := readEntry(entry, limit)
				if err != nil {
					return nil, err
				}
				r.props[id] = propValue{typ: typ, data: data}
			}
		}
	}

	names := make([]string, 0, len(recipients))
	for name := range recipients {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cm.recipients = append(cm.recipients, *recipients[name])
	}

	return cm, nil
}

// readEntry reads one stream. The declared size comes from the directory
// entry and is rejected when it is negative or larger than the container.
func readEntry(entry *mscfb.File, limit int64) ([]byte, error) {
	if entry.Size < 0 || entry.Size > limit {
		return nil, malformed("stream "+entry.Name+" declares size "+strconv.FormatInt(entry.Size, 10), nil)
	}
	data := make([]byte, entry.Size)
	if _, err := io.ReadFull(entry, data); err != nil {
		return nil, malformed("failed to read stream "+entry.Name, err)
	}
	return data, nil
}

// normalized maps the collected properties onto a NormalizedMessage, with
// the HTML body preferred over the plain text one
func (cm *compoundMessage) normalized() *NormalizedMessage {
	msg := &NormalizedMessage{
		From:    cm.sender(),
		Subject: cm.props.str(propSubject),
		Body:    cm.props.str(propBodyHTML),
		To:      []string{},
		Cc:      []string{},
	}
	if msg.Body == "" {
		msg.Body = cm.props.str(propBody)
	}

	for _, r := range cm.recipients {
		addr := r.address()
		if addr == "" {
			continue
		}
		switch r.kind {
		case recipientCc:
			msg.Cc = append(msg.Cc, addr)
		case recipientBcc:
		default:
			msg.To = append(msg.To, addr)
		}
	}

	return msg
}

func (cm *compoundMessage) sender() string {
	if addr := cm.props.str(propSenderSMTP); addr != "" {
		return addr
	}
	if addr := cm.props.str(propSenderEmail); strings.Contains(addr, "@") {
		return addr
	}
	name := cm.props.str(propSenderName)
	if name == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(name); err == nil {
		return addr.Address
	}
	return name
}

func (r msgRecipient) address() string {
	if addr := r.props.str(propSMTPAddress); addr != "" {
		return addr
	}
	if addr := r.props.str(propEmailAddress); strings.Contains(addr, "@") {
		return addr
	}
	if name := r.props.str(propDisplayName); strings.Contains(name, "@") {
		return name
	}
	return ""
}

// parseStreamName splits "__substg1.0_PPPPTTTT" into property id and type
func parseStreamName(name string) (id, typ uint16, ok bool) {
	if !strings.HasPrefix(name, substgPrefix) || len(name) != len(substgPrefix)+8 {
		return 0, 0, false
	}
	tag := name[len(substgPrefix):]
	pid, err := strconv.ParseUint(tag[:4], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	ptyp, err := strconv.ParseUint(tag[4:], 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(pid), uint16(ptyp), true
}

// recipientType finds PR_RECIPIENT_TYPE in a recipient properties stream
func recipientType(data []byte) (int32, bool) {
	if len(data) < recipientPropsHeaderSz {
		return 0, false
	}
	for off := recipientPropsHeaderSz; off+propertyEntrySize <= len(data); off += propertyEntrySize {
		tag := binary.LittleEndian.Uint32(data[off:])
		if uint16(tag>>16) == propRecipientType && uint16(tag) == propTypeInteger32 {
			return int32(binary.LittleEndian.Uint32(data[off+8:])), true
		}
	}
	return 0, false
}

func decodeProp(v propValue) string {
	var s string
	switch v.typ {
	case propTypeUnicode:
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(v.data)
		if err != nil {
			return ""
		}
		s = string(decoded)
	case propTypeString8, propTypeBinary:
		if utf8.Valid(v.data) {
			s = string(v.data)
		} else {
			decoded, err := charmap.Windows1252.NewDecoder().Bytes(v.data)
			if err != nil {
				return ""
			}
			s = string(decoded)
		}
	default:
		return ""
	}
	return strings.TrimRight(s, "\x00")
}
