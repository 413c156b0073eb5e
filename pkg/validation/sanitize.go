package validation

import (
	"strings"
	"unicode"
)

const (
	// maxClientIDLength is the longest client ID every MQTT 3.1 broker must accept.
	maxClientIDLength = 23
	maxUsernameLength = 128
	fallbackClientID  = "energybridge"
)

// SanitizeClientID drops control, non-printable and space characters from an MQTT client
// ID and truncates it to 23 characters.
func SanitizeClientID(clientID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, clientID)

	sanitized = truncateRunes(sanitized, maxClientIDLength)
	if sanitized == "" {
		return fallbackClientID
	}
	return sanitized
}

// SanitizeUsername removes control characters, quotes and backslashes, trims whitespace
// and limits the length.
func SanitizeUsername(username string) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' || r == '\'' || r == '\\' {
			return -1
		}
		return r
	}, username)

	return truncateRunes(strings.TrimSpace(sanitized), maxUsernameLength)
}

// SanitizePassword removes null bytes and control characters other than tab, CR and LF.
func SanitizePassword(password string) string {
	return strings.Map(func(r rune) rune {
		if r == '\x00' || (unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r') {
			return -1
		}
		return r
	}, password)
}

// SanitizeConfigString removes control characters except spaces and tabs, trims
// whitespace and applies maxLength (0 = no limit).
func SanitizeConfigString(input string, maxLength int) string {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != ' ' && r != '\t' {
			return -1
		}
		return r
	}, input)

	sanitized = strings.TrimSpace(sanitized)
	if maxLength > 0 {
		sanitized = truncateRunes(sanitized, maxLength)
	}
	return sanitized
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
