package metadata

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// errEmptyDocument is returned by Parse when the document carries none of the
// recognised fields.
var errEmptyDocument = errors.New("metadata: document has no recognised fields")

// document is the loose on-the-wire layout. Every field is kept raw so each
// one can be normalised by shape.
type document struct {
	Title        json.RawMessage `json:"title"`
	Name         json.RawMessage `json:"name"`
	Question     json.RawMessage `json:"question"`
	Description  json.RawMessage `json:"description"`
	Details      json.RawMessage `json:"details"`
	Outcomes     json.RawMessage `json:"outcomes"`
	OutcomeNames json.RawMessage `json:"outcomeNames"`
	Tags         json.RawMessage `json:"tags"`
	Attributes   json.RawMessage `json:"attributes"`
}

// attribute is one entry of an NFT-style attribute list.
type attribute struct {
	TraitType string          `json:"trait_type"`
	Name      string          `json:"name"`
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
}

func (a attribute) label() string {
	for _, s := range []string{a.TraitType, a.Name, a.Key} {
		if s != "" {
			return strings.ToLower(strings.TrimSpace(s))
		}
	}
	return ""
}

// shape tags the JSON form a list-valued field arrived in.
type shape int

const (
	shapeAbsent shape = iota
	shapeList
	shapeString
	shapeScalar
)

func classify(raw json.RawMessage) shape {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return shapeAbsent
	}
	switch raw[0] {
	case '[':
		return shapeList
	case '"':
		return shapeString
	default:
		return shapeScalar
	}
}

// Parse decodes a metadata document. Outcomes and tags may each be a JSON
// list, a delimited string, or an entry in the attributes list.
func Parse(data []byte) (domain.MarketMetadata, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.MarketMetadata{}, err
	}

	meta := domain.MarketMetadata{
		Title:       firstString(doc.Title, doc.Name, doc.Question),
		Description: firstString(doc.Description, doc.Details),
		Outcomes:    normalizeList(doc.Outcomes),
		Tags:        normalizeList(doc.Tags),
	}
	if meta.Outcomes == nil {
		meta.Outcomes = normalizeList(doc.OutcomeNames)
	}
	for _, attr := range attributes(doc.Attributes) {
		switch attr.label() {
		case "outcomes", "outcome names":
			if meta.Outcomes == nil {
				meta.Outcomes = normalizeList(attr.Value)
			}
		case "tags", "category", "categories":
			if meta.Tags == nil {
				meta.Tags = normalizeList(attr.Value)
			}
		case "title", "question":
			if meta.Title == "" {
				meta.Title = coerceString(attr.Value)
			}
		}
	}

	if meta.Title == "" && meta.Description == "" && meta.Outcomes == nil && meta.Tags == nil {
		return domain.MarketMetadata{}, errEmptyDocument
	}
	return meta, nil
}

// attributes decodes the attribute list, skipping entries that are not
// objects with string labels.
func attributes(raw json.RawMessage) []attribute {
	if classify(raw) != shapeList {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]attribute, 0, len(items))
	for _, item := range items {
		var a attribute
		if err := json.Unmarshal(item, &a); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// normalizeList dispatches on the field's shape and returns nil when the field
// is absent or yields no items.
func normalizeList(raw json.RawMessage) []string {
	var out []string
	switch classify(raw) {
	case shapeList:
		out = fromList(raw)
	case shapeString:
		out = fromString(raw)
	case shapeScalar:
		out = []string{coerceString(raw)}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fromList(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fromString handles both a JSON array encoded inside a string and a plain
// delimited string.
func fromString(raw json.RawMessage) []string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		if out := fromList(json.RawMessage(s)); out != nil {
			return out
		}
		s = strings.Trim(s, "[]")
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// coerceString renders any JSON leaf as a string. Objects and arrays are kept
// in compact JSON form; null becomes "".
func coerceString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	// Numbers keep their literal form instead of round-tripping through float64.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return ""
		}
		return buf.String()
	}
}

func firstString(raws ...json.RawMessage) string {
	for _, raw := range raws {
		if s := coerceString(raw); s != "" {
			return s
		}
	}
	return ""
}
