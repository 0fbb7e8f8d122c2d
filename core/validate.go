package core

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationReport collects everything wrong (or suspicious) with a
// candidate generation. A non-empty Errors list blocks publication when
// validation.runOnStartup is set.
type ValidationReport struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Valid reports whether the generation may be published.
func (r *ValidationReport) Valid() bool { return len(r.Errors) == 0 }

// errorf appends a formatted error.
func (r *ValidationReport) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// warnf appends a formatted warning.
func (r *ValidationReport) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Merge folds another report into this one.
func (r *ValidationReport) Merge(o ValidationReport) {
	r.Errors = append(r.Errors, o.Errors...)
	r.Warnings = append(r.Warnings, o.Warnings...)
}

// structCheck runs go-playground struct validation on the descriptors.
var structCheck = validator.New(validator.WithRequiredStructEnabled())

// ValidateGeneration enforces the referential and structural invariants
// of one candidate generation as a set.
func ValidateGeneration(g *Generation) ValidationReport {
	var rep ValidationReport
	rep.Merge(validateDatabases(g))
	rep.Merge(validateQueries(g))
	rep.Merge(validateEndpoints(g))
	return rep
}

// ValidateScope validates one slice of the generation: databases,
// queries, endpoints, or relationships (the cross-reference checks that
// span kinds).
func ValidateScope(g *Generation, scope string) (ValidationReport, error) {
	var rep ValidationReport
	switch scope {
	case "databases":
		rep = validateDatabases(g)
	case "queries":
		rep = validateQueries(g)
	case "endpoints":
		rep = validateEndpoints(g)
	case "relationships":
		rep.Merge(validateQueries(g))
		rep.Merge(validateEndpoints(g))
	default:
		return rep, fmt.Errorf("unknown validation scope %q", scope)
	}
	return rep, nil
}

// validateDatabases checks each database descriptor in isolation.
func validateDatabases(g *Generation) ValidationReport {
	var rep ValidationReport
	for _, name := range sortedKeys(g.Databases) {
		d := g.Databases[name]
		if err := structCheck.Struct(d); err != nil {
			rep.errorf("database %q: %s", name, err)
		}
		if d.Driver != "" && !knownDriver(d.Driver) {
			rep.warnf("database %q: unrecognized driver %q", name, d.Driver)
		}
	}
	return rep
}

// validateQueries checks each query descriptor and its database reference.
func validateQueries(g *Generation) ValidationReport {
	var rep ValidationReport
	for _, name := range sortedKeys(g.Queries) {
		q := g.Queries[name]
		if err := structCheck.Struct(q); err != nil {
			rep.errorf("query %q: %s", name, err)
		}
		if _, ok := g.Databases[q.Database]; !ok && q.Database != "" {
			rep.errorf("query %q references unknown database %q", name, q.Database)
		}

		for i, p := range q.Parameters {
			if !p.Type.Valid() {
				rep.errorf("query %q parameter %q: invalid type %q", name, p.Name, p.Type)
			}
			// positions must be 1..N and dense after sorting
			if p.Position != i+1 {
				rep.errorf("query %q: parameter positions must be dense 1..%d, parameter %q has position %d",
					name, len(q.Parameters), p.Name, p.Position)
			}
		}

		if q.Cache != nil && q.Cache.KeyPattern != "" {
			rep.Merge(validateKeyPattern(name, q))
		}
		for _, rule := range cacheRules(q) {
			if rule.EventType == "" {
				rep.errorf("query %q: invalidation rule with empty eventType", name)
			}
			if len(rule.Patterns) == 0 {
				rep.errorf("query %q: invalidation rule %q has no patterns", name, rule.EventType)
			}
		}
	}
	return rep
}

// validateKeyPattern checks brace balance and that every placeholder
// names one of the query's parameters.
func validateKeyPattern(name string, q Query) ValidationReport {
	var rep ValidationReport
	pattern := q.Cache.KeyPattern

	params := make(map[string]bool, len(q.Parameters))
	for _, p := range q.Parameters {
		params[p.Name] = true
	}

	depth := 0
	var cur strings.Builder
	for _, r := range pattern {
		switch r {
		case '{':
			depth++
			if depth > 1 {
				rep.errorf("query %q: cache key pattern %q has nested braces", name, pattern)
				return rep
			}
			cur.Reset()
		case '}':
			depth--
			if depth < 0 {
				rep.errorf("query %q: cache key pattern %q has unbalanced braces", name, pattern)
				return rep
			}
			if ph := cur.String(); !params[ph] {
				rep.errorf("query %q: cache key pattern placeholder %q is not a parameter", name, ph)
			}
		default:
			if depth == 1 {
				cur.WriteRune(r)
			}
		}
	}
	if depth != 0 {
		rep.errorf("query %q: cache key pattern %q has unbalanced braces", name, pattern)
	}
	return rep
}

// validateEndpoints checks endpoint descriptors and their query references.
func validateEndpoints(g *Generation) ValidationReport {
	var rep ValidationReport
	for _, name := range sortedKeys(g.Endpoints) {
		e := g.Endpoints[name]
		if err := structCheck.Struct(e); err != nil {
			rep.errorf("endpoint %q: %s", name, err)
		}
		if _, ok := g.Queries[e.Query]; !ok && e.Query != "" {
			rep.errorf("endpoint %q references unknown query %q", name, e.Query)
		}
		if e.CountQuery != "" {
			if _, ok := g.Queries[e.CountQuery]; !ok {
				rep.errorf("endpoint %q references unknown count query %q", name, e.CountQuery)
			}
		} else if e.Pagination.Enabled && e.Response.Type == ResponsePaged {
			rep.warnf("endpoint %q: paged response without a count query, totals will be -1", name)
		}
		if !e.Response.Type.Valid() {
			rep.errorf("endpoint %q: invalid response type %q", name, e.Response.Type)
		}
		for _, p := range e.Parameters {
			if !p.Type.Valid() {
				rep.errorf("endpoint %q parameter %q: invalid type %q", name, p.Name, p.Type)
			}
			if !p.Source.Valid() {
				rep.errorf("endpoint %q parameter %q: invalid source %q", name, p.Name, p.Source)
			}
			if p.Source == SourcePath && !strings.Contains(e.Path, "{"+p.Name+"}") {
				rep.errorf("endpoint %q parameter %q: path %q has no {%s} segment",
					name, p.Name, e.Path, p.Name)
			}
		}
	}
	return rep
}

// cacheRules returns the invalidation rules of a query, if any.
func cacheRules(q Query) []InvalidationRule {
	if q.Cache == nil {
		return nil
	}
	return q.Cache.InvalidationRules
}
