package parser

import (
	"bytes"
	"io"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/charmap"
)

func init() {
	// Register additional charsets that are commonly used in emails
	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("iso-8859-15", charmap.ISO8859_15)
}

// ParseEML decodes a MIME message read from r
func ParseEML(r io.Reader) (*NormalizedMessage, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, malformed("failed to read email", err)
	}
	msg, err := decodeEML(raw)
	if err != nil {
		return nil, err
	}
	return normalize(msg), nil
}

func decodeEML(payload []byte) (*NormalizedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(payload))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, malformed("failed to create mail reader", err)
	}

	header := mr.Header
	msg := &NormalizedMessage{
		Subject: decodeMIMEWord(header.Get("Subject")),
		To:      addressList(header, "To"),
		Cc:      addressList(header, "Cc"),
	}

	// From
	if fromAddrs, err := header.AddressList("From"); err == nil && len(fromAddrs) > 0 {
		msg.From = fromAddrs[0].Address
	}

	mediaType, _, _ := header.ContentType()
	if strings.HasPrefix(mediaType, "multipart/") {
		msg.Body, err = multipartBody(mr)
	} else {
		msg.Body, err = singleBody(mr)
	}
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// multipartBody returns the first inline HTML part, or every inline plain
// text part concatenated in order when there is no HTML
func multipartBody(mr *mail.Reader) (string, error) {
	var text strings.Builder
	for {
		part, err := nextPart(mr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := h.ContentType()
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/html"):
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return "", malformed("failed to read body", err)
			}
			return string(body), nil
		case strings.HasPrefix(contentType, "text/plain"):
			if _, err := io.Copy(&text, part.Body); err != nil {
				return "", malformed("failed to read body", err)
			}
		}
	}
	return text.String(), nil
}

// singleBody returns the content of a non-multipart message as is
func singleBody(mr *mail.Reader) (string, error) {
	part, err := nextPart(mr)
	if err == io.EOF {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	body, err := io.ReadAll(part.Body)
	if err != nil {
		return "", malformed("failed to read body", err)
	}
	return string(body), nil
}

func nextPart(mr *mail.Reader) (*mail.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, malformed("failed to read part", err)
		}
		if part != nil {
			return part, nil
		}
	}
}

// addressList returns the addresses of a header field, empty when the field
// is absent or cannot be parsed
func addressList(header mail.Header, key string) []string {
	addresses := []string{}
	list, err := header.AddressList(key)
	if err != nil {
		return addresses
	}
	for _, addr := range list {
		addresses = append(addresses, addr.Address)
	}
	return addresses
}

// decodeMIMEWord decodes MIME-encoded words (RFC 2047)
// Example: =?UTF-8?Q?Invitaci=C3=B3n?= -> Invitación
func decodeMIMEWord(s string) string {
	dec := &mime.WordDecoder{CharsetReader: charset.Reader}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		// If decoding fails, return original string
		return s
	}
	return decoded
}
