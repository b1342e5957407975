package parser

import "fmt"

// decodeFunc turns a raw payload into a message for one format
type decodeFunc func(payload []byte) (*NormalizedMessage, error)

var decoders = map[Format]decodeFunc{
	FormatEML: decodeEML,
	FormatMSG: decodeMSG,
}

// Extract decodes payload according to format. A nil message is returned on any error.
func Extract(payload []byte, format Format) (*NormalizedMessage, error) {
	decode, ok := decoders[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	msg, err := decode(payload)
	if err != nil {
		return nil, err
	}
	return normalize(msg), nil
}
