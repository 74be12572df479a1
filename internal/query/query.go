package query

import (
	"context"
	"regexp"
	"strings"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// Constraints holds equality predicates (column = literal) found in a query's text.
// Table generators use them the way a virtual table would use pushed-down constraints.
type Constraints map[string][]string

var equalityPattern = regexp.MustCompile(`(?i)\b([a-z_][a-z0-9_]*)\s*=\s*('(?:[^']|'')*'|-?[0-9]+)`)

func ParseConstraints(sqlText string) Constraints {
	constraints := Constraints{}
	for _, match := range equalityPattern.FindAllStringSubmatch(sqlText, -1) {
		column := strings.ToLower(match[1])
		value := match[2]
		if strings.HasPrefix(value, "'") {
			value = strings.ReplaceAll(value[1:len(value)-1], "''", "'")
		}
		constraints[column] = append(constraints[column], value)
	}
	return constraints
}

func (c Constraints) Values(column string) []string {
	return c[strings.ToLower(column)]
}

func (c Constraints) Has(column, value string) bool {
	for _, candidate := range c.Values(column) {
		if candidate == value {
			return true
		}
	}
	return false
}
