package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

// NormalizeCategory case-folds and trims a category name so that
// configuration keys, item categories and worker specializations compare
// equal regardless of how they were typed.
func NormalizeCategory(s string) Category {
	return Category(fold(s))
}

// NormalizeFactor case-folds and trims a special factor name.
func NormalizeFactor(s string) Factor {
	return Factor(fold(s))
}

// A cases.Caser is stateful, so each call builds its own.
func fold(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}
