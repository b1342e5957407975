package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input   string
		want    Format
		wantErr bool
	}{
		{input: "", want: FormatEML},
		{input: "eml", want: FormatEML},
		{input: "EML", want: FormatEML},
		{input: " msg ", want: FormatMSG},
		{input: "MSG", want: FormatMSG},
		{input: "pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				assert.ErrorIs(t, err, ErrMalformedInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_UnknownFormat(t *testing.T) {
	msg, err := Extract([]byte("x"), Format(42))

	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Nil(t, msg)
}

func TestFormatString(t *testing.T) {
	assert.Equal(t, "eml", FormatEML.String())
	assert.Equal(t, "msg", FormatMSG.String())
	assert.Equal(t, "format(7)", Format(7).String())
}
