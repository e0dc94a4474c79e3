package query

// Flatten copies nested objects in value into target, joining nested keys with dots. Arrays and
// other values are copied as-is.
func Flatten(target map[string]any, prefix string, value map[string]any) {
	for key, nested := range value {
		if prefix != "" {
			key = prefix + "." + key
		}

		if nestedObject, ok := nested.(map[string]any); ok {
			Flatten(target, key, nestedObject)
		} else {
			target[key] = nested
		}
	}
}
