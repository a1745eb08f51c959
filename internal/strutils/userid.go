package strutils

import (
	"fmt"
	"strings"
	"unicode"
)

const VALID_HEX_DIGITS = "0123456789abcdefABCDEF"

// GeoGuessr user ids are 12 byte object ids, hex encoded
const USER_ID_LENGTH = 24

// Trims surrounding whitespace and converts all characters to lowercase
func NormalizeUserID(userID string) (string, error) {
	trimmed := strings.TrimSpace(userID)

	var normalized strings.Builder
	normalized.Grow(USER_ID_LENGTH)

	for _, char := range trimmed {
		if !strings.ContainsRune(VALID_HEX_DIGITS, char) {
			return "", fmt.Errorf("invalid character in user id. input: '%s'", userID)
		}
		normalized.WriteRune(unicode.ToLower(char))
	}
	if normalized.Len() != USER_ID_LENGTH {
		return "", fmt.Errorf("normalized user id has incorrect length. input: '%s'", userID)
	}
	return normalized.String(), nil
}

func UserIDIsNormalized(userID string) bool {
	normalized, err := NormalizeUserID(userID)
	if err != nil {
		return false
	}
	return normalized == userID
}
