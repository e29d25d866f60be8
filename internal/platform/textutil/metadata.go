package textutil

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// Gateway metadata limits. Stripe enforces the tightest of the supported providers.
const (
	MaxMetadataEntries  = 50
	MaxMetadataKeyLen   = 40
	MaxMetadataValueLen = 500
)

// NormalizeMetadata trims keys and values, drops empty keys, truncates oversized values and keeps at
// most MaxMetadataEntries keys in lexical order. It returns nil when nothing survives.
func NormalizeMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	trimmed := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.TrimSpace(key)
		if key == "" || utf8.RuneCountInString(key) > MaxMetadataKeyLen {
			continue
		}
		if _, seen := trimmed[key]; !seen {
			keys = append(keys, key)
		}
		trimmed[key] = truncate(strings.TrimSpace(value), MaxMetadataValueLen)
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)
	if len(keys) > MaxMetadataEntries {
		keys = keys[:MaxMetadataEntries]
	}
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		result[key] = trimmed[key]
	}
	return result
}

func truncate(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}
