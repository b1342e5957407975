package parser

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// UnknownSender is used when no sender address can be recovered
	UnknownSender = "Unknown"
	// NoSubject replaces a missing or empty subject
	NoSubject = "No Subject"
)

var (
	// ErrMalformedInput is wrapped by every decoding failure
	ErrMalformedInput = errors.New("malformed input")
	// ErrUnsupportedFormat is returned for an unknown format discriminator
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrMalformedInput)
)

// NormalizedMessage is the format-independent form of an email
type NormalizedMessage struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Body    string
}

// Format selects the decoder used for a raw payload
type Format int

const (
	FormatEML Format = iota
	FormatMSG
)

func (f Format) String() string {
	switch f {
	case FormatEML:
		return "eml"
	case FormatMSG:
		return "msg"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParseFormat maps a request discriminator to a Format. Empty means EML.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eml":
		return FormatEML, nil
	case "msg":
		return FormatMSG, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// malformed wraps err so that errors.Is(err, ErrMalformedInput) holds
func malformed(msg string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedInput, msg)
	}
	return fmt.Errorf("%w: %s: %v", ErrMalformedInput, msg, err)
}

// normalize applies the defaults shared by every decoder
func normalize(m *NormalizedMessage) *NormalizedMessage {
	if m.From == "" {
		m.From = UnknownSender
	}
	if strings.TrimSpace(m.Subject) == "" {
		m.Subject = NoSubject
	}
	if m.To == nil {
		m.To = []string{}
	}
	if m.Cc == nil {
		m.Cc = []string{}
	}
	return m
}
