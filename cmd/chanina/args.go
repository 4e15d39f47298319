package main

import (
	"fmt"
	"strings"
)

// ParseConfig turns "key=value" pairs into a configuration mapping for a
// dispatched libretto. Entries without a "=" are skipped; an entry with an
// empty key or value is an error, as is an input that yields no usable pair
// at all.
func ParseConfig(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	config := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		if key == "" || value == "" {
			return nil, fmt.Errorf("invalid config pair %q: key and value must be non-empty", pair)
		}
		config[key] = value
	}

	if len(config) == 0 {
		return nil, fmt.Errorf("no usable config pairs in %v", pairs)
	}
	return config, nil
}
