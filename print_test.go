package castle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/uapi"
)

func TestKeyStringEscapesNonPrintable(t *testing.T) {
	dims := []codec.Dimension{
		{Payload: []byte("abc")},
		{Payload: []byte{0x00, 0x7f}},
	}
	s := KeyString(dims)
	require.Equal(t, "(abc,\\x00\\x7f)", s)
}

func TestKeyStringMarksZeroLengthElement(t *testing.T) {
	dims := []codec.Dimension{{Payload: nil}}
	require.Equal(t, "((invalid zero-length element))", KeyString(dims))
}

func TestKeyStringEscapesDelimiters(t *testing.T) {
	dims := []codec.Dimension{{Payload: []byte("a,b(c)")}}
	s := KeyString(dims)
	require.Equal(t, "(a\\x2cb\\x28c\\x29)", s)
}

func TestFormatRequestNamesKnownTag(t *testing.T) {
	req := uapi.RequestRecord{Tag: uapi.TagGet, CallID: 7, Collection: 3, KeyLen: 10, BufLen: 20}
	s := FormatRequest(req)
	require.Contains(t, s, "get(")
	require.Contains(t, s, "call_id=7")
	require.Contains(t, s, "collection=3")
}

func TestFormatRequestFallsBackToNumericTag(t *testing.T) {
	req := uapi.RequestRecord{Tag: uapi.RequestTag(200)}
	require.Contains(t, FormatRequest(req), "unknown(200)")
}

func TestFormatResponseIncludesAllFields(t *testing.T) {
	resp := uapi.ResponseRecord{CallID: 1, Err: -2, Length: 42, Token: 9}
	s := FormatResponse(resp)
	require.Equal(t, "response(call_id=1, err=-2, length=42, token=9)", s)
}
