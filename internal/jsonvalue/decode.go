// Package jsonvalue holds the dynamic, runtime-unknown-shape value
// representation used for JSO sub-tree captures ("Dynamic
// object values"): a recursive tagged variant of null, bool, number,
// string, array, and object-of-string-to-value, expressed here simply as
// Go's untyped map[string]interface{}/[]interface{}/nil/bool/float64/
// string tree — the same shape encoding/json would produce, so the
// normalized result marshals straight back into the jso wire record.
package jsonvalue

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// XMLToValue decodes a single well-formed XML element (and its
// descendants) into a generic value tree keyed by the root tag name,
// following the common "@_attr" / "#text" convention referenced by
// the node dictionary (node.fields.field[].@_name, etc). Repeated child tags
// become a []interface{}; a single occurrence becomes a plain object.
func XMLToValue(data []byte) (map[string]interface{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("jsonvalue: no root element found")
			}
			return nil, fmt.Errorf("jsonvalue: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			name := start.Name.Local
			val, err := decodeElement(dec, start)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{name: val}, nil
		}
	}
}

// decodeElement consumes tokens up to and including the matching
// EndElement for start, returning the element's value: attributes
// prefixed "@_", child elements keyed by tag name (merged into a slice
// on repeat), and non-whitespace character data, trimmed: returned as a
// bare string for an element with no attributes and no children,
// otherwise stored under "#text".
func decodeElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	obj := make(map[string]interface{})
	for _, attr := range start.Attr {
		obj["@_"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder
	hasChildren := false

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("jsonvalue: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			hasChildren = true
			childVal, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			mergeChild(obj, t.Name.Local, childVal)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			trimmed := strings.TrimSpace(text.String())
			if trimmed != "" {
				if !hasChildren && len(obj) == 0 {
					// Pure leaf text node: return the bare string.
					return trimmed, nil
				}
				obj["#text"] = trimmed
			}
			if len(obj) == 0 {
				return nil, nil
			}
			return obj, nil
		}
	}
}

func mergeChild(obj map[string]interface{}, name string, val interface{}) {
	existing, ok := obj[name]
	if !ok {
		obj[name] = val
		return
	}
	if arr, isArr := existing.([]interface{}); isArr {
		obj[name] = append(arr, val)
		return
	}
	obj[name] = []interface{}{existing, val}
}
