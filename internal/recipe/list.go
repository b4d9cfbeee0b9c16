package recipe

import "encoding/json"

// EncodeList renders a string list for a single TEXT column.
func EncodeList(items []string) string {
	if len(items) == 0 {
		return "[]"
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeList parses a list column. Empty or unparseable input yields an
// empty slice, never an error.
func DecodeList(s string) []string {
	if s == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(s), &items); err != nil || items == nil {
		return []string{}
	}
	return items
}
