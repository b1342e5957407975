package parser

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"
)

func utf16Prop(t *testing.T, s string) propValue {
	t.Helper()

	data, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte(s))
	require.NoError(t, err)
	return propValue{typ: propTypeUnicode, data: append(data, 0, 0)}
}

func recipientProps(kind int32) []byte {
	data := make([]byte, recipientPropsHeaderSz+2*propertyEntrySize)
	// an unrelated property first
	binary.LittleEndian.PutUint32(data[recipientPropsHeaderSz:], uint32(0x0FFE)<<16|uint32(propTypeInteger32))
	entry := data[recipientPropsHeaderSz+propertyEntrySize:]
	binary.LittleEndian.PutUint32(entry, uint32(propRecipientType)<<16|uint32(propTypeInteger32))
	binary.LittleEndian.PutUint32(entry[8:], uint32(kind))
	return data
}

func TestCompoundMessage_Normalized(t *testing.T) {
	cm := &compoundMessage{
		props: propSet{
			propSubject:    utf16Prop(t, "Trade Details - MSFT"),
			propSenderName: utf16Prop(t, "Trading Desk"),
			propSenderSMTP: utf16Prop(t, "trading.desk@bank.com"),
			propBody:       utf16Prop(t, "plain body"),
			propBodyHTML:   {typ: propTypeBinary, data: []byte("<p>html body</p>")},
		},
		recipients: []msgRecipient{
			{props: propSet{propSMTPAddress: utf16Prop(t, "ops@bank.com")}, kind: recipientTo},
			{props: propSet{propEmailAddress: utf16Prop(t, "compliance@bank.com")}, kind: recipientCc},
			{props: propSet{propSMTPAddress: utf16Prop(t, "hidden@bank.com")}, kind: recipientBcc},
			{props: propSet{propEmailAddress: utf16Prop(t, "/O=EXCHANGE/CN=NOBODY")}, kind: recipientTo},
		},
	}

	msg := normalize(cm.normalized())

	assert.Equal(t, "trading.desk@bank.com", msg.From)
	assert.Equal(t, "Trade Details - MSFT", msg.Subject)
	assert.Equal(t, "<p>html body</p>", msg.Body, "HTML body is preferred")
	assert.Equal(t, []string{"ops@bank.com"}, msg.To)
	assert.Equal(t, []string{"compliance@bank.com"}, msg.Cc)
}

func TestCompoundMessage_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		props    propSet
		wantFrom string
		wantBody string
	}{
		{
			name: "Exchange sender falls back to display name address",
			props: propSet{
				propSenderEmail: utf16Prop(t, "/O=EXCHANGELABS/OU=GROUP/CN=TRADER"),
				propSenderName:  utf16Prop(t, "Trader <trader@bank.com>"),
				propBody:        utf16Prop(t, "plain only"),
			},
			wantFrom: "trader@bank.com",
			wantBody: "plain only",
		},
		{
			name: "Display name used as is",
			props: propSet{
				propSenderName: utf16Prop(t, "Trader Two"),
			},
			wantFrom: "Trader Two",
			wantBody: "",
		},
		{
			name:     "No sender at all",
			props:    propSet{},
			wantFrom: UnknownSender,
			wantBody: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := normalize((&compoundMessage{props: tt.props}).normalized())

			assert.Equal(t, tt.wantFrom, msg.From)
			assert.Equal(t, tt.wantBody, msg.Body)
			assert.Equal(t, NoSubject, msg.Subject)
			assert.Empty(t, msg.To)
			assert.Empty(t, msg.Cc)
		})
	}
}

func TestParseStreamName(t *testing.T) {
	id, typ, ok := parseStreamName("__substg1.0_0037001F")
	require.True(t, ok)
	assert.Equal(t, propSubject, id)
	assert.Equal(t, propTypeUnicode, typ)

	_, _, ok = parseStreamName("__substg1.0_1013")
	assert.False(t, ok)
	_, _, ok = parseStreamName("__properties_version1.0")
	assert.False(t, ok)
	_, _, ok = parseStreamName("__substg1.0_ZZZZ001F")
	assert.False(t, ok)
}

func TestRecipientType(t *testing.T) {
	kind, ok := recipientType(recipientProps(recipientCc))
	require.True(t, ok)
	assert.Equal(t, recipientCc, kind)

	_, ok = recipientType(make([]byte, recipientPropsHeaderSz+propertyEntrySize))
	assert.False(t, ok)
	_, ok = recipientType(nil)
	assert.False(t, ok)
}

func TestDecodeProp(t *testing.T) {
	assert.Equal(t, "Café", decodeProp(utf16Prop(t, "Café")))
	assert.Equal(t, "Café", decodeProp(propValue{typ: propTypeString8, data: []byte{'C', 'a', 'f', 0xE9, 0}}))
	assert.Equal(t, "plain", decodeProp(propValue{typ: propTypeString8, data: []byte("plain")}))
	assert.Empty(t, decodeProp(propValue{typ: propTypeInteger32, data: []byte{1, 0, 0, 0}}))
}

func TestExtractMSG_CorruptContainer(t *testing.T) {
	msg, err := Extract([]byte("definitely not a compound document"), FormatMSG)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Nil(t, msg)
}

// TestExtractMSG_TradeTicket decodes an Outlook message with To, Cc and Bcc
// recipients and both body variants
func TestExtractMSG_TradeTicket(t *testing.T) {
	data, err := os.ReadFile("testdata/trade-ticket.msg")
	require.NoError(t, err)

	msg, err := Extract(data, FormatMSG)
	require.NoError(t, err)

	assert.Equal(t, "trading.desk@bank.com", msg.From)
	assert.Equal(t, "Trade Ticket - MSFT", msg.Subject)
	assert.Equal(t, []string{"ops@client.com"}, msg.To)
	assert.Equal(t, []string{"compliance@client.com"}, msg.Cc, "Bcc recipients are dropped")
	assert.Equal(t, "<html><body><p>Please buy 500 MSFT at 410.25</p></body></html>", msg.Body)
}

// TestExtractMSG_OversizedStream rejects a directory entry whose declared
// stream size exceeds the container
func TestExtractMSG_OversizedStream(t *testing.T) {
	data, err := os.ReadFile("testdata/trade-ticket.msg")
	require.NoError(t, err)

	name, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder().Bytes([]byte("__substg1.0_0037001F"))
	require.NoError(t, err)
	entry := bytes.Index(data, name)
	require.GreaterOrEqual(t, entry, 0, "subject directory entry")

	// stream size lives at offset 120 of the 128 byte directory entry
	binary.LittleEndian.PutUint32(data[entry+120:], 0xFFFFFFF0)

	msg, err := Extract(data, FormatMSG)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedInput)
	assert.Contains(t, err.Error(), "__substg1.0_0037001F")
	assert.Nil(t, msg)
}
