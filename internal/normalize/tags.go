package normalize

import "strings"

// SellerTag is guaranteed present exactly once in every merged tag set so
// destination-side automations can key on it.
const SellerTag = "Seller"

// MergeTags combines the contact's existing destination tags with the tags
// carried on the ingest record. Duplicates are dropped case-insensitively,
// first-seen casing wins, and the marker tag ends up present exactly once.
func MergeTags(existing, incoming []string) []string {
	out := make([]string, 0, len(existing)+len(incoming)+1)
	seen := make(map[string]bool, len(existing)+len(incoming)+1)

	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		k := strings.ToLower(tag)
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, tag)
	}

	for _, t := range existing {
		add(t)
	}
	for _, t := range incoming {
		add(t)
	}
	if !seen[strings.ToLower(SellerTag)] {
		add(SellerTag)
	}
	return out
}

// SplitTags parses the ingest feed's free-text tag column (comma or
// semicolon separated).
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
