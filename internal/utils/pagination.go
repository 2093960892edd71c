// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

import (
	"strconv"
	"strings"
)

// OptionalInt parses a query-string integer. An empty (or blank) string
// yields (nil, nil) so callers can tell "absent" from "zero".
//
// Example:
//
//	p, _ := utils.OptionalInt("2")  // *p == 2
//	p, _ = utils.OptionalInt("")    // p == nil
//	_, err := utils.OptionalInt("x") // err != nil
func OptionalInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// OptionalFloat is OptionalInt for float64 values.
func OptionalFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}
