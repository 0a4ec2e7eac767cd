package skyward

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

var (
	gridObjectsCall   = regexp.MustCompile(`sff\.sv\(\s*['"]sf_gridObjects['"]\s*,\s*`)
	gridObjectsExtend = regexp.MustCompile(`^\$\.extend\(\s*\(\s*sff\.getValue\(\s*['"]sf_gridObjects['"]\s*\)\s*\|\|\s*\{\s*\}\s*\)\s*,\s*`)
)

// Grid is one named grid of the page's sf_gridObjects literal, reduced to the
// markup of each cell.
type Grid struct {
	Name string
	Rows [][]string
}

// ParseGridObjects finds every sf_gridObjects assignment in the page source
// and decodes its object literal. Grids are returned sorted by name so row
// order is stable across runs.
func ParseGridObjects(source string) ([]Grid, error) {
	calls := gridObjectsCall.FindAllStringIndex(source, -1)
	if len(calls) == 0 {
		return nil, parseError("grid_objects", "no sf_gridObjects literal found")
	}

	merged := map[string]any{}
	for _, call := range calls {
		rest := source[call[1]:]
		if prefix := gridObjectsExtend.FindStringIndex(rest); prefix != nil {
			rest = rest[prefix[1]:]
		}
		literal, ok := objectLiteral(rest)
		if !ok {
			return nil, parseError("grid_objects", "unterminated sf_gridObjects literal")
		}
		var decoded map[string]any
		err := json5.Unmarshal([]byte(literal), &decoded)
		if err != nil {
			return nil, parseError("grid_objects", "decode literal: %v", err)
		}
		for k, v := range decoded {
			merged[k] = v
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	grids := make([]Grid, 0, len(names))
	for _, name := range names {
		grids = append(grids, Grid{Name: name, Rows: gridRows(merged[name])})
	}
	return grids, nil
}

func gridRows(grid any) [][]string {
	obj, _ := grid.(map[string]any)
	table, _ := obj["tb"].(map[string]any)
	rows, _ := table["r"].([]any)

	result := make([][]string, 0, len(rows))
	for _, row := range rows {
		rowObj, _ := row.(map[string]any)
		cells, _ := rowObj["c"].([]any)
		values := make([]string, 0, len(cells))
		for _, cell := range cells {
			cellObj, _ := cell.(map[string]any)
			values = append(values, cellMarkup(cellObj["h"]))
		}
		result = append(result, values)
	}
	return result
}

func cellMarkup(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// objectLiteral returns the balanced {...} at the start of s, skipping over
// braces inside quoted strings and comments.
func objectLiteral(s string) (string, bool) {
	if len(s) == 0 || s[0] != '{' {
		return "", false
	}
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			switch ch {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			quote = ch
		case '/':
			if i+1 < len(s) && s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
			} else if i+1 < len(s) && s[i+1] == '*' {
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					return "", false
				}
				i += end + 3
			}
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}
