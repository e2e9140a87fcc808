package ingesterr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FailedRow records why one row of a batch was rejected.
type FailedRow struct {
	Index   int
	Kind    Kind
	Message string
}

// NewFailedRow returns a FailedRow for the row at index.
func NewFailedRow(index int, kind Kind, format string, args ...any) FailedRow {
	return FailedRow{Index: index, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// String renders the row error as "<Kind>: <message>".
func (r FailedRow) String() string {
	return r.Kind.String() + ": " + r.Message
}

// ParseFailedRow builds a FailedRow from its "<Kind>: <message>" text. Text
// without a recognised prefix keeps the whole string as the message and
// parses to KindUnknown.
func ParseFailedRow(index int, text string) FailedRow {
	tag, msg, found := strings.Cut(text, ":")
	if found {
		if kind, ok := ParseKind(strings.TrimSpace(tag)); ok {
			return FailedRow{Index: index, Kind: kind, Message: strings.TrimSpace(msg)}
		}
	}
	return FailedRow{Index: index, Kind: KindUnknown, Message: text}
}

type failedRowJSON struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// MarshalJSON encodes the row as {"index": n, "error": "<Kind>: <message>"}.
func (r FailedRow) MarshalJSON() ([]byte, error) {
	return json.Marshal(failedRowJSON{Index: r.Index, Error: r.String()})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *FailedRow) UnmarshalJSON(data []byte) error {
	var raw failedRowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ParseFailedRow(raw.Index, raw.Error)
	return nil
}
