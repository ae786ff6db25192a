package store

import (
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// ErrInvalidFilter is returned for filter expressions that do not compile to a bool.
var ErrInvalidFilter = errors.New("invalid filter")

// recordFilter is a compiled CEL predicate over record attributes.
type recordFilter struct {
	program cel.Program
}

var (
	filterEnvOnce sync.Once
	filterEnv     *cel.Env
	filterEnvErr  error
)

func getFilterEnv() (*cel.Env, error) {
	filterEnvOnce.Do(func() {
		filterEnv, filterEnvErr = cel.NewEnv(
			cel.Variable("id", cel.StringType),
			cel.Variable("type", cel.StringType),
			cel.Variable("title", cel.StringType),
			cel.Variable("subtitle", cel.StringType),
			cel.Variable("details", cel.StringType),
			cel.Variable("name", cel.StringType),
			cel.Variable("category", cel.StringType),
			cel.Variable("location", cel.StringType),
			cel.Variable("barcode", cel.StringType),
			cel.Variable("price", cel.DoubleType),
			cel.Variable("has_image", cel.BoolType),
		)
	})
	return filterEnv, filterEnvErr
}

// compileFilter parses and type-checks a CEL expression that must evaluate to a bool.
func compileFilter(expr string) (*recordFilter, error) {
	env, err := getFilterEnv()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create filter environment")
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.Wrapf(ErrInvalidFilter, "%q: %v", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Wrapf(ErrInvalidFilter, "%q must evaluate to a bool", expr)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter program")
	}
	return &recordFilter{program: program}, nil
}

// Match evaluates the filter against a record.
func (f *recordFilter) Match(r *Record) (bool, error) {
	out, _, err := f.program.Eval(filterVars(r))
	if err != nil {
		return false, errors.Wrap(err, "failed to evaluate filter")
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, errors.New("filter did not evaluate to a bool")
	}
	return matched, nil
}

func filterVars(r *Record) map[string]any {
	vars := map[string]any{
		"id":        r.ID,
		"type":      r.Kind.String(),
		"title":     r.Title,
		"subtitle":  r.Subtitle,
		"details":   r.Details,
		"name":      r.Name(),
		"category":  "",
		"location":  "",
		"barcode":   "",
		"price":     0.0,
		"has_image": r.ImageDigest() != "",
	}
	if p := r.Product; p != nil {
		vars["category"] = p.Category
		vars["location"] = p.Location
		vars["barcode"] = p.Barcode
		vars["price"] = p.Price.InexactFloat64()
	}
	return vars
}
