package commands

import (
	"errors"
	"fmt"
	"strconv"
	"unicode"
)

// ErrItemRefRequired indicates no item reference was provided.
var ErrItemRefRequired = errors.New("task reference required")

// ParseItemRef parses the 1-based item number printed by list.
// Exactly one all-digit argument is accepted.
func ParseItemRef(args []string) (int, error) {
	if len(args) == 0 {
		return 0, ErrItemRefRequired
	}
	if len(args) > 1 {
		return 0, fmt.Errorf("too many arguments: %d", len(args))
	}
	if !isAllDigits(args[0]) {
		return 0, fmt.Errorf("invalid task reference: %s", args[0])
	}
	num, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid task reference: %s", args[0])
	}
	return num, nil
}

// isAllDigits returns true if s consists only of ASCII digits and is non-empty.
func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
