package jsonvalue

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// NormalizedField is one entry of a normalized node dictionary.
type NormalizedField struct {
	Name  string `json:"name"`
	Title string `json:"title,omitempty"`
	Type  string `json:"type"`
}

// NormalizedDict is the dictionary portion of a normalized node.
type NormalizedDict struct {
	Cache  string            `json:"cache"`
	Fields []NormalizedField `json:"fields"`
}

// NormalizedNode is one element of the canonical {"nodes": [...]} form
// produced by TryNormalizeNodes.
type NormalizedNode struct {
	Info   interface{}    `json:"info,omitempty"`
	Dict   NormalizedDict `json:"dict"`
	Values interface{}    `json:"values,omitempty"`
	Time   interface{}    `json:"time,omitempty"`
}

var boolPattern = regexp.MustCompile(`(?i)^(1|true|yes|on)$`)

// TryNormalizeNodes detects one of the three node-dictionary shapes
// described for the node dictionary (flat-fields, node-field-array,
// dictionary) under root's "node" key and, if found, returns the
// canonical {"nodes": [...]} form plus true. Otherwise it returns
// (nil, false) and the caller should fall back to emitting the raw
// captured object under its own tag name.
func TryNormalizeNodes(root map[string]interface{}) (map[string]interface{}, bool) {
	rawNodes, ok := root["node"]
	if !ok {
		return nil, false
	}

	var nodeObjs []map[string]interface{}
	switch v := rawNodes.(type) {
	case map[string]interface{}:
		nodeObjs = []map[string]interface{}{v}
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				nodeObjs = append(nodeObjs, m)
			}
		}
	default:
		return nil, false
	}

	var result []NormalizedNode
	for _, n := range nodeObjs {
		fields, ok := extractFlatFields(n)
		if !ok {
			fields, ok = extractFieldArray(n)
		}
		if !ok {
			fields, ok = extractDictionaryWalk(n)
		}
		if !ok || len(fields) == 0 {
			continue
		}

		cache, initial := computeCacheAndInitial(fields)
		result = append(result, NormalizedNode{
			Info:    n["info"],
			Dict:    NormalizedDict{Cache: cache, Fields: fields},
			Values:  initial,
			Time:    n["time"],
		})
	}

	if len(result) == 0 {
		return nil, false
	}
	return map[string]interface{}{"nodes": result}, true
}

// extractFlatFields handles node.fields.field[] with each field having
// name/@_name, optional title, and a type possibly nested under
// struct.type.
func extractFlatFields(node map[string]interface{}) ([]NormalizedField, bool) {
	fieldsObj, ok := node["fields"].(map[string]interface{})
	if !ok {
		return nil, false
	}
	raw := asSlice(fieldsObj["field"])
	if raw == nil {
		return nil, false
	}

	var out []NormalizedField
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(m, "name", "@_name")
		if name == "" {
			continue
		}
		title := stringField(m, "title", "@_title")
		typ := stringField(m, "type", "@_type")
		if typ == "" {
			if structObj, ok := m["struct"].(map[string]interface{}); ok {
				typ = stringField(structObj, "type", "@_type")
			}
		}
		out = append(out, NormalizedField{Name: name, Title: title, Type: normalizeType(typ)})
	}
	return out, len(out) > 0
}

// extractFieldArray handles node.field[] with attributes including
// @_name and type. An inline value/#text on a field is not read.
func extractFieldArray(node map[string]interface{}) ([]NormalizedField, bool) {
	raw := asSlice(node["field"])
	if raw == nil {
		return nil, false
	}

	var out []NormalizedField
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		name := stringField(m, "@_name", "name")
		if name == "" {
			continue
		}
		typ := stringField(m, "@_type", "type")
		title := stringField(m, "@_title", "title")
		out = append(out, NormalizedField{Name: name, Title: title, Type: normalizeType(typ)})
	}
	return out, len(out) > 0
}

// skipDictionarySubtrees are sub-object keys that are never themselves
// field definitions when walking node.dictionary.
var skipDictionarySubtrees = map[string]bool{
	"info": true, "hardware": true, "version": true,
}

// extractDictionaryWalk recursively walks node.dictionary, collecting
// any subtree object that carries both a name and a type, skipping
// info/hardware/version sub-objects.
func extractDictionaryWalk(node map[string]interface{}) ([]NormalizedField, bool) {
	dict, ok := node["dictionary"].(map[string]interface{})
	if !ok {
		return nil, false
	}

	var out []NormalizedField
	var walk func(key string, v interface{})
	walk = func(key string, v interface{}) {
		m, ok := v.(map[string]interface{})
		if !ok {
			return
		}
		if skipDictionarySubtrees[key] {
			return
		}
		name := stringField(m, "@_name", "name")
		typ := stringField(m, "@_type", "type")
		if name != "" && typ != "" {
			title := stringField(m, "@_title", "title")
			out = append(out, NormalizedField{Name: name, Title: title, Type: normalizeType(typ)})
			return
		}
		for k, child := range m {
			walk(k, child)
		}
	}
	for k, v := range dict {
		walk(k, v)
	}
	return out, len(out) > 0
}

// normalizeType lowercases a type string and maps option/enum onto string.
func normalizeType(typ string) string {
	t := strings.ToLower(strings.TrimSpace(typ))
	switch t {
	case "option", "enum":
		return "string"
	default:
		return t
	}
}

// computeCacheAndInitial computes the dictionary cache token (first 8
// hex chars, uppercase, of SHA-1(JSON(fields))) and each field's initial
// value. The initial value is parseInitialValue of an empty string, i.e.
// 0, false or "" by type; values present in the source are not used.
func computeCacheAndInitial(fields []NormalizedField) (string, map[string]interface{}) {
	blob, _ := json.Marshal(fields)
	sum := sha1.Sum(blob)
	cache := strings.ToUpper(hex.EncodeToString(sum[:])[:8])

	initial := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		initial[f.Name] = parseInitialValue(f.Type, "")
	}
	return cache, initial
}

// parseInitialValue parses raw per the field's normalized type: numeric
// types attempt a numeric parse (falling back to 0), boolean types match
// /^(1|true|yes|on)$/i, otherwise the trimmed string is kept.
func parseInitialValue(typ, raw string) interface{} {
	raw = strings.TrimSpace(raw)
	switch typ {
	case "int", "integer", "long", "short", "byte", "uint", "uint8", "uint16", "uint32", "uint64":
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0
		}
		return n
	case "float", "double", "real", "number":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0
		}
		return f
	case "bool", "boolean":
		return boolPattern.MatchString(raw)
	default:
		return raw
	}
}

func asSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case []interface{}:
		return t
	case map[string]interface{}:
		return []interface{}{t}
	default:
		return nil
	}
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
