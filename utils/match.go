package utils

import "strings"

// MatchURI reports whether a resource URI matches pattern. Patterns may use:
//   - '*' for any run of characters inside one path segment
//   - '**' for any run of characters, '/' included
//   - ':name' for exactly one non-empty path segment
//
// An empty pattern and "**" match everything.
func MatchURI(uri, pattern string) bool {
	if pattern == "" || pattern == "**" {
		return true
	}
	if !strings.ContainsAny(pattern, "*:") {
		return uri == pattern
	}
	return matchFrom(uri, pattern)
}

func matchFrom(value, pattern string) bool {
	for len(pattern) > 0 {
		switch {
		case strings.HasPrefix(pattern, "**"):
			rest := strings.TrimLeft(pattern, "*")
			if rest == "" {
				return true
			}
			for i := 0; i <= len(value); i++ {
				if matchFrom(value[i:], rest) {
					return true
				}
			}
			return false
		case pattern[0] == '*':
			rest := pattern[1:]
			for i := 0; i <= len(value); i++ {
				if matchFrom(value[i:], rest) {
					return true
				}
				if i < len(value) && value[i] == '/' {
					break
				}
			}
			return false
		case pattern[0] == ':' && (len(pattern) == 1 || pattern[1] != '/'):
			end := strings.IndexByte(pattern, '/')
			if end < 0 {
				end = len(pattern)
			}
			seg := strings.IndexByte(value, '/')
			if seg < 0 {
				seg = len(value)
			}
			if seg == 0 {
				return false
			}
			value, pattern = value[seg:], pattern[end:]
		default:
			if len(value) == 0 || value[0] != pattern[0] {
				return false
			}
			value, pattern = value[1:], pattern[1:]
		}
	}
	return len(value) == 0
}
