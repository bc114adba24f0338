package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var quarterPattern = regexp.MustCompile(`^Q([1-4])-(\d{4})$`)

// ParseQuarter validates a quarter token such as "Q3-2024" and returns its
// canonical upper-case form.
func ParseQuarter(s string) (string, error) {
	q := strings.ToUpper(strings.TrimSpace(s))
	if !quarterPattern.MatchString(q) {
		return "", fmt.Errorf("%w: %q (expected Qn-YYYY)", ErrInvalidQuarter, s)
	}
	return q, nil
}

// QuarterOf returns the quarter token containing t.
func QuarterOf(t time.Time) string {
	q := (int(t.Month())-1)/3 + 1
	return fmt.Sprintf("Q%d-%d", q, t.Year())
}
