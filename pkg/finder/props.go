package finder

import (
	"fmt"
	"strings"
)

// exportMarkers locate the export-definition region of a factory: webpack's
// getter definition helper and plain CommonJS assignments.
var exportMarkers = []string{".d(", "module.exports", "exports."}

type propsFinder struct {
	props []string
}

// Props matches modules that appear to export every named property.
//
// This is a substring heuristic, not a parse: a false negative only skips
// a patch. Keys are looked for in the export region as `name:`, `"name":`
// or `.name=`; a module without a recognizable export region falls back to
// a plain substring search for each name.
func Props(props ...string) Finder {
	return propsFinder{props: append([]string(nil), props...)}
}

func (f propsFinder) Matches(source string) bool {
	region, ok := exportRegion(source)
	for _, p := range f.props {
		if p == "" {
			continue
		}
		if !ok {
			if !strings.Contains(source, p) {
				return false
			}
			continue
		}
		if !hasExportKey(region, p) {
			return false
		}
	}
	return true
}

func (f propsFinder) String() string {
	return fmt.Sprintf("props(%s)", strings.Join(f.props, ","))
}

func exportRegion(source string) (string, bool) {
	start := -1
	for _, marker := range exportMarkers {
		if idx := strings.LastIndex(source, marker); idx > start {
			start = idx
		}
	}
	if start < 0 {
		return "", false
	}
	return source[start:], true
}

func hasExportKey(region, name string) bool {
	if strings.Contains(region, `"`+name+`":`) || strings.Contains(region, "'"+name+"':") {
		return true
	}

	for offset := 0; offset < len(region); {
		idx := strings.Index(region[offset:], name)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(name)
		offset = start + 1

		if start > 0 && isIdentByte(region[start-1]) {
			continue
		}
		if end >= len(region) {
			continue
		}

		switch region[end] {
		case ':':
			if start > 0 && (region[start-1] == '{' || region[start-1] == ',') {
				return true
			}
		case '=':
			// .name= but not .name==
			if start > 0 && region[start-1] == '.' && (end+1 >= len(region) || region[end+1] != '=') {
				return true
			}
		}
	}
	return false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
