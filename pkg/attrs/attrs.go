// Package attrs inspects the flat key-value attribute slices slog handlers
// capture during tests.
package attrs

// ExtractString returns the string value following key in a
// [key1, value1, key2, value2, ...] slice. Returns "" when the key is absent
// or its value is not a string.
func ExtractString(kv []any, key string) string {
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok || k != key {
			continue
		}
		v, _ := kv[i+1].(string)
		return v
	}
	return ""
}
