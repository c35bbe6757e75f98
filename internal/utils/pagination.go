// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import "strconv"

// AtoiDefault converts a string to an int using strconv.Atoi.
// If the string is empty or cannot be parsed as an integer,
// it returns the provided default value instead.
//
// Example:
//
//	n := utils.AtoiDefault("42", 0) // returns 42
//	n = utils.AtoiDefault("", 10)   // returns 10
//	n = utils.AtoiDefault("x", 5)   // returns 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageMeta describes one page of a listing.
type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int   `json:"totalPages"`
}

// Window normalizes a skip/take pair: negative skip becomes 0 and take is
// clamped to [1, max], falling back to def when not positive.
func Window(skip, take, def, max int) (int, int) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = def
	}
	if take > max {
		take = max
	}
	return skip, take
}

// NewPageMeta builds the meta block for a skip/take window. Page numbers
// start at 1 and are derived as floor(skip/take)+1.
func NewPageMeta(total int64, skip, take int) PageMeta {
	if take <= 0 {
		take = 1
	}
	pages := int((total + int64(take) - 1) / int64(take))
	return PageMeta{
		Total:      total,
		Page:       skip/take + 1,
		Limit:      take,
		TotalPages: pages,
	}
}

// Offset converts a 1-based page and size into a row offset.
func Offset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}
