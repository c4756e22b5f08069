package models

import (
	"fmt"
	"strconv"
	"strings"
)

// FormatRegistrationNumber renders PREFIX-YYYY-NNNN. Sequences above 9999 keep all their digits.
func FormatRegistrationNumber(prefix string, year, seq int) string {
	return fmt.Sprintf("%s-%d-%04d", prefix, year, seq)
}

// ParseRegistrationNumber splits a registration number into its parts.
func ParseRegistrationNumber(value string) (prefix string, year, seq int, err error) {
	idx := strings.LastIndex(value, "-")
	if idx <= 0 {
		return "", 0, 0, fmt.Errorf("malformed registration number %q", value)
	}
	head, seqPart := value[:idx], value[idx+1:]
	yearIdx := strings.LastIndex(head, "-")
	if yearIdx <= 0 {
		return "", 0, 0, fmt.Errorf("malformed registration number %q", value)
	}
	prefix, yearPart := head[:yearIdx], head[yearIdx+1:]

	if len(yearPart) != 4 || len(seqPart) < 4 {
		return "", 0, 0, fmt.Errorf("malformed registration number %q", value)
	}
	if year, err = strconv.Atoi(yearPart); err != nil {
		return "", 0, 0, fmt.Errorf("malformed registration year %q", yearPart)
	}
	if seq, err = strconv.Atoi(seqPart); err != nil || seq <= 0 {
		return "", 0, 0, fmt.Errorf("malformed registration sequence %q", seqPart)
	}
	return prefix, year, seq, nil
}
