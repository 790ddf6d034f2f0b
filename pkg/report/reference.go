package report

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	referencePrefix = "LP"
	// MaxReferenceSequence is the last sequence that fits six digits.
	MaxReferenceSequence int64 = 999999
)

var ErrReferenceExhausted = errors.New("reference sequence exhausted for year")

// FormatReference renders LP-<year>-<6-digit sequence>.
func FormatReference(year int, seq int64) string {
	return fmt.Sprintf("%s-%04d-%06d", referencePrefix, year, seq)
}

// ParseReference splits a reference number into year and sequence.
func ParseReference(ref string) (int, int64, error) {
	parts := strings.Split(strings.TrimSpace(ref), "-")
	if len(parts) != 3 || parts[0] != referencePrefix || len(parts[1]) != 4 || len(parts[2]) != 6 {
		return 0, 0, NewValidationError("referenceNumber", "expected LP-<year>-<6-digit sequence>")
	}
	year, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, NewValidationError("referenceNumber", "year is not numeric")
	}
	seq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || seq <= 0 {
		return 0, 0, NewValidationError("referenceNumber", "sequence is not a positive number")
	}
	return year, seq, nil
}
