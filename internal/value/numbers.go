package value

import "strconv"

// asInt reports whether s parses as a plain base-10 integer literal (no
// exponent, no fractional part), so that "3" decodes to Int(3) but "3.0"
// and "3e1" decode to Float — matching the original's int/float distinction
// in canonical encoding.
func asInt(s string) (int64, bool) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return i, true
}

func asFloat(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
