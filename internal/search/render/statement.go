package render

import (
	"fmt"
	"strings"
)

// statement accumulates the positional arguments of one rendered query.
// Placeholders are numbered in the order arguments are added, which is also
// the order they appear in the SQL text.
type statement struct {
	args    []interface{}
	aliases map[string]int
}

func newStatement() *statement {
	return &statement{aliases: map[string]int{}}
}

// arg binds v and returns its placeholder.
func (s *statement) arg(v interface{}) string {
	s.args = append(s.args, v)
	return fmt.Sprintf("$%d", len(s.args))
}

// alias returns a table alias unique within the statement.
func (s *statement) alias(prefix string) string {
	s.aliases[prefix]++
	return fmt.Sprintf("%s%d", prefix, s.aliases[prefix])
}

// and joins predicates; an empty list is TRUE.
func and(preds []string) string {
	if len(preds) == 0 {
		return "TRUE"
	}
	return strings.Join(preds, " AND ")
}

// or joins alternatives, parenthesized when there is more than one.
func or(preds []string) string {
	if len(preds) == 1 {
		return preds[0]
	}
	return "(" + strings.Join(preds, " OR ") + ")"
}
