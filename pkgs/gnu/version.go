// Package gnu orders file names containing version numbers the way
// `sort -V` and dpkg do.
package gnu

// Compare returns -1, 0 or 1 as a sorts before, equal to or after b.
// Runs of digits compare by numeric value; other characters compare with
// letters before punctuation and '~' before everything, even the end of
// the string.
func Compare(a, b string) int {
	switch c := verrevcmp(a, b); {
	case c < 0:
		return -1
	case c > 0:
		return 1
	}
	return 0
}

// Latest returns the greatest of names, or "" if there are none.
func Latest(names []string) string {
	var max string
	for i, name := range names {
		if i == 0 || Compare(name, max) > 0 {
			max = name
		}
	}
	return max
}

func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := order(a, i), order(b, j)
			if ac != bc {
				return ac - bc
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		diff := 0
		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if diff == 0 {
				diff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if diff != 0 {
			return diff
		}
	}
	return 0
}

// order is the weight of s[i]; past the end it is that of a digit.
func order(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	switch c := s[i]; {
	case isDigit(c):
		return 0
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
