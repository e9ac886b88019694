package recall

// toInt64, toString, and toFloat64 convert the driver-native `any` values returned by
// Store's generic row-scanning helpers (Execute/GetOne) into concrete types. The
// ncruces/go-sqlite3 driver returns int64/float64/string/[]byte/nil for INTEGER/REAL/
// TEXT/BLOB/NULL columns respectively; []byte appears for TEXT columns read through the
// generic scanner, so it is handled alongside string.
func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}

func toFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	}
	return 0
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return ""
}
