package sanitize

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var (
	usernamePattern = regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	separators      = strings.NewReplacer("\\", "/")
)

// SanitizeUsername trims the input and drops characters that cannot appear
// in a username
func SanitizeUsername(username string) string {
	return usernamePattern.ReplaceAllString(strings.TrimSpace(username), "")
}

// SanitizeFilename reduces an uploaded file name to its final path element
// and strips control characters. It returns "" when nothing usable remains.
func SanitizeFilename(filename string) string {
	filename = StripControlCharacters(strings.TrimSpace(filename))
	filename = path.Base(separators.Replace(filename))
	switch filename {
	case ".", "..", "/":
		return ""
	}
	return strings.TrimSpace(filename)
}

// StripControlCharacters removes control characters from string
func StripControlCharacters(input string) string {
	var result strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// ValidateStringLength checks if the rune count of input is within bounds
func ValidateStringLength(input string, minLen, maxLen int) bool {
	n := len([]rune(input))
	return n >= minLen && n <= maxLen
}
