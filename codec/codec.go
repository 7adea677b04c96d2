// Package codec persists history trees as JSON records.
//
// A message record is {"role", "content", "timestamp"} with the timestamp
// rendered as "YYYY-MM-DD HH:MM:SS.ffffff+HH:MM". A history record is
// {"messages", "final_messages", "subhistories"} where subhistories maps
// sub-agent names to nested history records. Decode(Encode(h)) is equal to
// h field for field, including timestamp precision.
package codec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hupe1980/personamesh/core"
)

// TimestampLayout is the persisted timestamp format.
const TimestampLayout = "2006-01-02 15:04:05.000000-07:00"

// legacyLayout accepts records whose zone was written as an abbreviation
// ("UTC") instead of a numeric offset.
const legacyLayout = "2006-01-02 15:04:05.000000MST"

type messageRecord struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type historyRecord struct {
	Messages      []messageRecord           `json:"messages"`
	FinalMessages []messageRecord           `json:"final_messages"`
	Subhistories  map[string]*historyRecord `json:"subhistories"`
}

// Options configures encoding.
type Options struct {
	// Indent, when non-empty, pretty prints the record with this indent.
	Indent string
}

// Encode serializes h into a JSON record.
func Encode(h *core.History, optFns ...func(o *Options)) ([]byte, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	if h == nil {
		h = core.NewHistory()
	}

	rec := toRecord(h)

	if opts.Indent != "" {
		return json.MarshalIndent(rec, "", opts.Indent)
	}

	return json.Marshal(rec)
}

// Decode parses a JSON record into a history tree. Any malformed JSON,
// unknown role or unparsable timestamp yields a *core.RecordError.
func Decode(data []byte) (*core.History, error) {
	var rec historyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, &core.RecordError{Record: truncate(string(data)), Reason: fmt.Sprintf("malformed json: %v", err)}
	}

	return fromRecord(&rec, "")
}

// FormatTimestamp renders t in the persisted layout.
func FormatTimestamp(t time.Time) string {
	return core.NormalizeTime(t).Format(TimestampLayout)
}

// ParseTimestamp parses a persisted timestamp and normalizes it to UTC.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(TimestampLayout, s)
	if err != nil {
		var legacyErr error
		if t, legacyErr = time.Parse(legacyLayout, s); legacyErr != nil {
			return time.Time{}, err
		}
	}

	return core.NormalizeTime(t), nil
}

func toRecord(h *core.History) *historyRecord {
	rec := &historyRecord{
		Messages:      toMessageRecords(h.Messages),
		FinalMessages: toMessageRecords(h.FinalMessages),
		Subhistories:  make(map[string]*historyRecord, len(h.Subhistories)),
	}

	for name, sub := range h.Subhistories {
		if sub == nil {
			continue
		}
		rec.Subhistories[name] = toRecord(sub)
	}

	return rec
}

func toMessageRecords(msgs []core.Message) []messageRecord {
	out := make([]messageRecord, len(msgs))
	for i, m := range msgs {
		out[i] = messageRecord{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: FormatTimestamp(m.Timestamp),
		}
	}

	return out
}

func fromRecord(rec *historyRecord, path string) (*core.History, error) {
	h := core.NewHistory()

	var err error
	if h.Messages, err = fromMessageRecords(rec.Messages); err != nil {
		return nil, err
	}

	if h.FinalMessages, err = fromMessageRecords(rec.FinalMessages); err != nil {
		return nil, err
	}

	for name, sub := range rec.Subhistories {
		subPath := name
		if path != "" {
			subPath = path + "/" + name
		}

		if sub == nil {
			return nil, &core.RecordError{Record: subPath, Reason: "null subhistory"}
		}

		if h.Subhistories[name], err = fromRecord(sub, subPath); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func fromMessageRecords(recs []messageRecord) ([]core.Message, error) {
	out := make([]core.Message, 0, len(recs))

	for _, r := range recs {
		role, err := core.ParseRole(r.Role)
		if err != nil {
			return nil, &core.RecordError{Record: describe(r), Reason: err.Error()}
		}

		ts, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, &core.RecordError{Record: describe(r), Reason: fmt.Sprintf("invalid timestamp %q", r.Timestamp)}
		}

		out = append(out, core.NewMessage(role, r.Content, ts))
	}

	return out, nil
}

func describe(r messageRecord) string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf("%+v", r)
	}

	return truncate(string(b))
}

const maxRecordLen = 256

func truncate(s string) string {
	if len(s) <= maxRecordLen {
		return s
	}

	return s[:maxRecordLen] + "..."
}
