package castle

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/castlefs/castle-client/internal/codec"
	"github.com/castlefs/castle-client/internal/uapi"
)

// FprintKey writes a human-readable rendering of dims to w: dimensions
// comma-separated and parenthesized, with any byte that isn't a plain
// printable character (or collides with the delimiters) escaped as
// \xNN. This exists for logging and debugging, not for anything
// round-trippable.
func FprintKey(w io.Writer, dims []codec.Dimension) error {
	if _, err := io.WriteString(w, "("); err != nil {
		return err
	}
	for i, d := range dims {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if len(d.Payload) == 0 {
			if _, err := io.WriteString(w, "(invalid zero-length element)"); err != nil {
				return err
			}
			continue
		}
		if err := printEscaped(w, d.Payload); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, ")")
	return err
}

func printEscaped(w io.Writer, b []byte) error {
	for _, c := range b {
		if unicode.IsPrint(rune(c)) && c != ',' && c != '(' && c != ')' {
			if _, err := w.Write([]byte{c}); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(w, "\\x%02x", c); err != nil {
			return err
		}
	}
	return nil
}

// KeyString renders dims the way FprintKey would, as a string.
func KeyString(dims []codec.Dimension) string {
	var sb strings.Builder
	FprintKey(&sb, dims)
	return sb.String()
}

var requestTagNames = map[uapi.RequestTag]string{
	uapi.TagReplace:          "replace",
	uapi.TagRemove:           "remove",
	uapi.TagGet:              "get",
	uapi.TagCounterSet:       "counter_set",
	uapi.TagCounterAdd:       "counter_add",
	uapi.TagReplaceTimestamp: "replace_timestamp",
	uapi.TagRemoveTimestamp:  "remove_timestamp",
	uapi.TagIterStart:        "iter_start",
	uapi.TagIterNext:         "iter_next",
	uapi.TagIterFinish:       "iter_finish",
	uapi.TagBigPut:           "big_put",
	uapi.TagPutChunk:         "put_chunk",
	uapi.TagBigGet:           "big_get",
	uapi.TagGetChunk:         "get_chunk",
}

// FormatRequest renders a RequestRecord for logging. It never prints
// value payloads or addresses, only ids and sizes, since those buffers live
// in shared memory the formatter can't safely read without the
// connection's own lifetime guarantees.
func FormatRequest(req uapi.RequestRecord) string {
	name, ok := requestTagNames[req.Tag]
	if !ok {
		name = fmt.Sprintf("unknown(%d)", req.Tag)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(call_id=%d, collection=%d, token=%d, key_len=%d, buf_len=%d",
		name, req.CallID, req.Collection, req.Token, req.KeyLen, req.BufLen)
	if req.Timestamp != 0 {
		fmt.Fprintf(&sb, ", timestamp=%d", req.Timestamp)
	}
	if req.Delta != 0 {
		fmt.Fprintf(&sb, ", delta=%d", req.Delta)
	}
	sb.WriteString(")")
	return sb.String()
}

// FormatResponse renders a ResponseRecord for logging.
func FormatResponse(resp uapi.ResponseRecord) string {
	return fmt.Sprintf("response(call_id=%d, err=%d, length=%d, token=%d)",
		resp.CallID, resp.Err, resp.Length, resp.Token)
}
