package logsink

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"time"
)

// Meta keys used by the session.
const (
	MetaTimestamp  = "timestamp"
	MetaConnection = "connection"
	MetaSubject    = "subject"
)

// Field is one ordered meta entry.
type Field struct {
	Key   string
	Value string
}

// Item is one titled section of a block.
type Item struct {
	Title   string
	Body    string
	Headers map[string]string
}

// Block is the record of one exchange: a request, a publish, a received
// message or a reply.
type Block struct {
	Meta  []Field
	Items []Item
}

// NewBlock creates a block stamped with ts in RFC 3339 (UTC, milliseconds).
func NewBlock(ts time.Time) *Block {
	b := &Block{}
	b.Set(MetaTimestamp, ts.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	return b
}

// Set adds or replaces a meta field, keeping insertion order.
func (b *Block) Set(key, value string) *Block {
	for i := range b.Meta {
		if b.Meta[i].Key == key {
			b.Meta[i].Value = value
			return b
		}
	}
	b.Meta = append(b.Meta, Field{Key: key, Value: value})
	return b
}

// Get returns the meta value for key
func (b *Block) Get(key string) (string, bool) {
	for _, f := range b.Meta {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Add appends an item
func (b *Block) Add(title, body string, headers map[string]string) *Block {
	b.Items = append(b.Items, Item{Title: title, Body: body, Headers: headers})
	return b
}

// Item returns the first item titled title.
func (b *Block) Item(title string) (Item, bool) {
	for _, it := range b.Items {
		if it.Title == title {
			return it, true
		}
	}
	return Item{}, false
}

var lineBreak = regexp.MustCompile(`\r?\n`)

// Lines renders the block with every line prefixed by indent. The last line
// is always empty.
func (b *Block) Lines(indent string) []string {
	child := indent + "  "
	leaf := child + "  "

	var lines []string
	if ts, ok := b.Get(MetaTimestamp); ok && ts != "" {
		lines = append(lines, indent+ts)
	}

	var meta []Field
	for _, f := range b.Meta {
		if f.Key != MetaTimestamp {
			meta = append(meta, f)
		}
	}
	if len(meta) > 0 {
		lines = append(lines, indent+"Meta:")
		for _, f := range meta {
			lines = append(lines, child+f.Key+": "+f.Value)
		}
	}

	for _, it := range b.Items {
		lines = append(lines, indent+it.Title+":")
		if len(it.Headers) > 0 {
			lines = append(lines, child+"Headers:")
			for _, k := range sortedKeys(it.Headers) {
				lines = append(lines, leaf+k+": "+it.Headers[k])
			}
		}
		lines = append(lines, child+"Body:")
		for _, l := range lineBreak.Split(it.Body, -1) {
			lines = append(lines, leaf+l)
		}
	}

	return append(lines, "")
}

// Append writes block to sink without indentation.
func Append(sink Sink, block *Block) {
	AppendIndented(sink, block, "")
}

// AppendIndented writes block to sink with every line prefixed by indent.
func AppendIndented(sink Sink, block *Block, indent string) {
	if sink == nil || block == nil {
		return
	}
	for _, line := range block.Lines(indent) {
		sink.AppendLine(line)
	}
}

// FormatBody decodes a message payload for display. JSON documents are
// pretty-printed with a two-space indent; anything else is returned as text.
func FormatBody(data []byte) string {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') || !json.Valid(trimmed) {
		return string(data)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, trimmed, "", "  "); err != nil {
		return string(data)
	}
	return out.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
