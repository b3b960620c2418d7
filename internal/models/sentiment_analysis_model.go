package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// VerdictUnknown is recorded for a headline whose classification failed.
const VerdictUnknown = "Unknown"

// VerdictEntry is one classified headline, as handed to result sinks.
type VerdictEntry struct {
	RunID        string    `json:"run_id" dynamodbav:"run_id"`
	Position     int       `json:"position" dynamodbav:"position"`
	HeadlineID   string    `json:"headline_id" dynamodbav:"headline_id"`
	Headline     Headline  `json:"headline" dynamodbav:"headline"`
	Verdict      string    `json:"verdict" dynamodbav:"verdict"`
	Classifier   string    `json:"classifier" dynamodbav:"classifier"`
	ClassifiedAt time.Time `json:"classified_at" dynamodbav:"classified_at"`
}

// SentimentRecord maps headlines to verdict text, remembering the order in
// which headlines were first added. Setting an existing headline replaces
// its verdict in place.
type SentimentRecord struct {
	order    []Headline
	verdicts map[Headline]string
}

func NewSentimentRecord() *SentimentRecord {
	return &SentimentRecord{verdicts: make(map[Headline]string)}
}

func (r *SentimentRecord) Set(h Headline, verdict string) {
	if r.verdicts == nil {
		r.verdicts = make(map[Headline]string)
	}
	if _, ok := r.verdicts[h]; !ok {
		r.order = append(r.order, h)
	}
	r.verdicts[h] = verdict
}

func (r *SentimentRecord) Get(h Headline) (string, bool) {
	v, ok := r.verdicts[h]
	return v, ok
}

func (r *SentimentRecord) Has(h Headline) bool {
	_, ok := r.verdicts[h]
	return ok
}

func (r *SentimentRecord) Len() int {
	return len(r.order)
}

// Headlines returns the keys in insertion order.
func (r *SentimentRecord) Headlines() []Headline {
	return append([]Headline(nil), r.order...)
}

// Map returns a copy of the record as a plain map.
func (r *SentimentRecord) Map() map[Headline]string {
	out := make(map[Headline]string, len(r.verdicts))
	for k, v := range r.verdicts {
		out[k] = v
	}
	return out
}

func (r *SentimentRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(h))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.verdicts[h])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts only a JSON object whose values are all strings.
// Key order in the document becomes the insertion order.
func (r *SentimentRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("sentiment record must be a JSON object, got %v", tok)
	}

	rec := NewSentimentRecord()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key token %v", tok)
		}

		var verdict string
		if err := dec.Decode(&verdict); err != nil {
			return fmt.Errorf("verdict for %q: %w", key, err)
		}
		rec.Set(Headline(key), verdict)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*r = *rec
	return nil
}
