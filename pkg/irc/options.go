package irc

// Options carries per-network connection options (port, password, tls,
// username, ...). Keys are free-form; the production client reads the ones
// it understands and ignores the rest.
type Options map[string]any

// MergeOptions layers override on top of defaults, per top-level key: a key
// wins when present in override, otherwise the default applies. Nested
// values are replaced wholesale, never deep-merged.
func MergeOptions(override, defaults Options) Options {
	merged := Options{}
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// String returns the string value under key, or fallback when absent or not
// a string.
func (o Options) String(key, fallback string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return fallback
}

// Int returns the int value under key. JSON decoding hands numbers over as
// float64, so both are accepted.
func (o Options) Int(key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func (o Options) Bool(key string, fallback bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return fallback
}
