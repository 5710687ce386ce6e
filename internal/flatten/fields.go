package flatten

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrMissingField is returned when a field a row cannot exist without is
// absent or empty.
var ErrMissingField = errors.New("missing required field")

// ErrInvalidJSON is returned for bodies that are not a JSON object.
var ErrInvalidJSON = errors.New("record body is not a JSON object")

func parse(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrInvalidJSON
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return gjson.Result{}, ErrInvalidJSON
	}
	return doc, nil
}

func required(doc gjson.Result, path string) (string, error) {
	value := doc.Get(path)
	if !value.Exists() || strings.TrimSpace(value.String()) == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, path)
	}
	return value.String(), nil
}

// optional returns the first non-empty value among paths.
func optional(doc gjson.Result, paths ...string) string {
	for _, path := range paths {
		if value := doc.Get(path); value.Exists() && value.Type != gjson.Null {
			if s := value.String(); s != "" {
				return s
			}
		}
	}
	return ""
}

func requiredTime(doc gjson.Result, path string) (time.Time, error) {
	raw, err := required(doc, path)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", path, err)
	}
	return ts.UTC(), nil
}

// DatePK renders ts as milliseconds since the Unix epoch.
func DatePK(ts time.Time) string {
	return strconv.FormatInt(ts.UnixMilli(), 10)
}

// ModifiedAt extracts the modified_at timestamp of an audit or action body.
func ModifiedAt(body []byte) (time.Time, error) {
	doc, err := parse(body)
	if err != nil {
		return time.Time{}, err
	}
	return requiredTime(doc, "modified_at")
}

// AuditName returns the audit title, or "" when absent.
func AuditName(body []byte) string {
	return gjson.GetBytes(body, "audit_data.name").String()
}

// TemplateName returns the template title, or "" when absent.
func TemplateName(body []byte) string {
	return gjson.GetBytes(body, "template_data.metadata.name").String()
}

// ItemResponse returns the response of the header or body item with id.
func ItemResponse(body []byte, itemID string) (string, bool) {
	doc := gjson.ParseBytes(body)
	for _, list := range []string{"header_items", "items"} {
		var (
			found bool
			value string
		)
		doc.Get(list).ForEach(func(_, item gjson.Result) bool {
			if item.Get("item_id").String() != itemID {
				return true
			}
			found = true
			value, _ = response(item)
			return false
		})
		if found {
			return value, value != ""
		}
	}
	return "", false
}

// Media is one attachment referenced by an audit.
type Media struct {
	ID        string
	Extension string
	Href      string
}

// MediaRefs lists every attachment of an audit once, in document order.
func MediaRefs(body []byte) []Media {
	doc := gjson.ParseBytes(body)
	seen := make(map[string]struct{})
	var out []Media

	add := func(m gjson.Result) {
		id := m.Get("media_id").String()
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ext := strings.TrimPrefix(m.Get("file_ext").String(), ".")
		if ext == "" {
			ext = "jpg"
		}
		out = append(out, Media{ID: id, Extension: ext, Href: m.Get("href").String()})
	}

	for _, list := range []string{"header_items", "items"} {
		doc.Get(list).ForEach(func(_, item gjson.Result) bool {
			for _, path := range []string{"media", "responses.media", "options.media", "responses.image"} {
				eachObject(item.Get(path), add)
			}
			return true
		})
	}
	return out
}

// eachObject calls fn for value itself when it is an object, or for each
// object element when it is an array.
func eachObject(value gjson.Result, fn func(gjson.Result)) {
	switch {
	case value.IsObject():
		fn(value)
	case value.IsArray():
		value.ForEach(func(_, element gjson.Result) bool {
			if element.IsObject() {
				fn(element)
			}
			return true
		})
	}
}
