package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/hrygo/shelfscan/store"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}

// toTSQuery translates a prefix match expression ("word", "word*", several words meaning
// AND, optional OR/NOT operators) into to_tsquery syntax. Any other punctuation makes the
// expression malformed.
func toTSQuery(expr string) (string, error) {
	terms := []string{}
	pendingOp := ""
	for _, field := range strings.Fields(expr) {
		switch field {
		case "AND":
			pendingOp = " & "
			continue
		case "OR":
			pendingOp = " | "
			continue
		case "NOT":
			pendingOp = " & !"
			continue
		}
		prefix := strings.HasSuffix(field, "*")
		word := strings.TrimSuffix(field, "*")
		if word == "" {
			return "", errors.Wrapf(store.ErrMalformedQuery, "empty term in %q", expr)
		}
		for _, r := range word {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
				return "", errors.Wrapf(store.ErrMalformedQuery, "unexpected %q in %q", r, expr)
			}
		}
		term := strings.ToLower(word)
		if prefix {
			term += ":*"
		}
		if len(terms) > 0 {
			op := pendingOp
			if op == "" {
				op = " & "
			}
			terms = append(terms, op+term)
		} else {
			if pendingOp != "" {
				return "", errors.Wrapf(store.ErrMalformedQuery, "dangling operator in %q", expr)
			}
			terms = append(terms, term)
		}
		pendingOp = ""
	}
	if pendingOp != "" || len(terms) == 0 {
		return "", errors.Wrapf(store.ErrMalformedQuery, "incomplete expression %q", expr)
	}
	return strings.Join(terms, ""), nil
}
