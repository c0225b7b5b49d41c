package cards

import "strings"

// NumericID normalises an upstream identifier. Commerce platforms return
// either plain numbers or opaque global ids such as
// "gid://shopify/Product/123"; both resolve to the trailing numeric segment.
// Identifiers without a numeric tail resolve to "".
func NumericID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	seg := raw
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		seg = raw[i+1:]
	}
	if seg == "" {
		return ""
	}
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return ""
		}
	}
	return seg
}
