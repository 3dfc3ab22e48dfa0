package model

// CompareNatural compares two names the way PHP's strnatcasecmp does:
// runs of digits compare as numbers ("eqpt2" sorts before "eqpt10"),
// whitespace is skipped and only ASCII letters fold case. A digit run
// starting with 0 is compared left-aligned, as a fraction, so "a01" sorts
// before "a1". Bytes compare unsigned. It returns -1, 0 or +1.
func CompareNatural(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return cmpInt(len(a), len(b))
	}

	i, j := 0, 0
	leading := true
	for {
		ca, cb := byteAt(a, i), byteAt(b, j)

		for leading && ca == '0' && i+1 < len(a) && isDigit(a[i+1]) {
			i++
			ca = a[i]
		}
		for leading && cb == '0' && j+1 < len(b) && isDigit(b[j+1]) {
			j++
			cb = b[j]
		}
		leading = false

		for isSpace(ca) {
			i++
			ca = byteAt(a, i)
		}
		for isSpace(cb) {
			j++
			cb = byteAt(b, j)
		}

		if isDigit(ca) && isDigit(cb) {
			var c int
			if ca == '0' || cb == '0' {
				c = compareLeft(a, b, &i, &j)
			} else {
				c = compareRight(a, b, &i, &j)
			}
			switch {
			case c != 0:
				return c
			case i == len(a) && j == len(b):
				return 0
			case i == len(a):
				return -1
			case j == len(b):
				return 1
			}
			ca, cb = a[i], b[j]
		}

		if c := cmpInt(int(asciiUpper(ca)), int(asciiUpper(cb))); c != 0 {
			return c
		}
		i++
		j++
		switch {
		case i >= len(a) && j >= len(b):
			return 0
		case i >= len(a):
			return -1
		case j >= len(b):
			return 1
		}
	}
}

// compareRight compares two digit runs by magnitude: the longer run wins,
// otherwise the first differing digit decides.
func compareRight(a, b string, i, j *int) int {
	bias := 0
	for ; ; *i, *j = *i+1, *j+1 {
		da, db := *i < len(a) && isDigit(a[*i]), *j < len(b) && isDigit(b[*j])
		switch {
		case !da && !db:
			return bias
		case !da:
			return -1
		case !db:
			return 1
		case bias == 0:
			bias = cmpInt(int(a[*i]), int(b[*j]))
		}
	}
}

// compareLeft compares two digit runs digit by digit from the left.
func compareLeft(a, b string, i, j *int) int {
	for ; ; *i, *j = *i+1, *j+1 {
		da, db := *i < len(a) && isDigit(a[*i]), *j < len(b) && isDigit(b[*j])
		switch {
		case !da && !db:
			return 0
		case !da:
			return -1
		case !db:
			return 1
		}
		if c := cmpInt(int(a[*i]), int(b[*j])); c != 0 {
			return c
		}
	}
}

// CompareFold compares two strings byte-wise with ASCII case folding, as
// PHP's strcasecmp.
func CompareFold(a, b string) int {
	n := min(len(a), len(b))
	for k := 0; k < n; k++ {
		if c := cmpInt(int(asciiLower(a[k])), int(asciiLower(b[k]))); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func byteAt(s string, i int) byte {
	if i < len(s) {
		return s[i]
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

func asciiUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func asciiLower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
