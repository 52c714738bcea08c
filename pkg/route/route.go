// Package route implements the server's route table and dispatcher
// (component M): an ordered list of literal and regular-expression rules,
// matched first-match-wins, each bound to a View and a set of accepted
// methods. A pattern rule's capture groups are attached to the request as
// positional Args before the View is invoked.
package route

import (
	"regexp"

	"github.com/rawcore/webcc/pkg/errors"
	"github.com/rawcore/webcc/pkg/message"
)

// View is the server-side handler contract: Handle may return (resp, true)
// to answer the request, or (nil, false) to say "I don't handle this
// method on this path" — the dispatcher then answers 501, matching
// webcc's RestService::Handle returning false for an unsupported verb.
type View interface {
	Handle(req *message.Request) (*message.Response, bool)
}

// ViewFunc adapts a plain function to the View interface.
type ViewFunc func(req *message.Request) (*message.Response, bool)

// Handle calls f.
func (f ViewFunc) Handle(req *message.Request) (*message.Response, bool) { return f(req) }

// rule is one entry in the table: either a literal path or a compiled
// pattern, never both.
type rule struct {
	literal string
	pattern *regexp.Regexp
	methods map[string]bool
	view    View
}

func (r *rule) acceptsMethod(method string) bool {
	if len(r.methods) == 0 {
		return true
	}
	return r.methods[method]
}

// matchPath reports whether path matches this rule, returning any regex
// capture groups (nil for a literal match).
func (r *rule) matchPath(path string) (args []string, ok bool) {
	if r.pattern != nil {
		m := r.pattern.FindStringSubmatch(path)
		if m == nil {
			return nil, false
		}
		if len(m) > 1 {
			args = append([]string(nil), m[1:]...)
		}
		return args, true
	}
	return nil, path == r.literal
}

// Table is an ordered sequence of rules, matched in insertion order — the
// first rule whose path matches wins, regardless of whether its method set
// accepts the request's method (a later, more permissive rule for the same
// path is never consulted once an earlier one matches the path).
type Table struct {
	rules []*rule
}

// NewTable returns an empty route table.
func NewTable() *Table {
	return &Table{}
}

func methodSet(methods []string) map[string]bool {
	if len(methods) == 0 {
		return nil
	}
	set := make(map[string]bool, len(methods))
	for _, m := range methods {
		set[m] = true
	}
	return set
}

// AddLiteral registers an exact-path rule. An empty methods list accepts
// every method.
func (t *Table) AddLiteral(path string, methods []string, view View) {
	t.rules = append(t.rules, &rule{literal: path, methods: methodSet(methods), view: view})
}

// AddPattern registers a regular-expression rule. The pattern is anchored
// on both ends (^...$) if it isn't already, so "/books/(\\d+)" doesn't
// accidentally match "/books/42/extra".
func (t *Table) AddPattern(pattern string, methods []string, view View) error {
	anchored := pattern
	if len(anchored) == 0 || anchored[0] != '^' {
		anchored = "^" + anchored
	}
	if len(anchored) == 0 || anchored[len(anchored)-1] != '$' {
		anchored = anchored + "$"
	}
	re, err := regexp.Compile(anchored)
	if err != nil {
		return errors.NewValidationError("invalid route pattern: " + err.Error())
	}
	t.rules = append(t.rules, &rule{pattern: re, methods: methodSet(methods), view: view})
	return nil
}

// Outcome is the result of matching a path and method against the table.
type Outcome int

const (
	// NoMatch means no rule's path matched at all (server should answer 404).
	NoMatch Outcome = iota
	// MethodNotAllowed means a rule's path matched but not its method set
	// (server should answer 501, per spec — webcc has no separate 405).
	MethodNotAllowed
	// Matched means a rule matched both path and method.
	Matched
)

// Match finds the first rule whose path matches, and reports the outcome.
// On Matched, args holds the pattern's capture groups (nil for a literal
// rule) and view is ready to Handle the request.
func (t *Table) Match(path, method string) (outcome Outcome, view View, args []string) {
	for _, r := range t.rules {
		a, ok := r.matchPath(path)
		if !ok {
			continue
		}
		if !r.acceptsMethod(method) {
			return MethodNotAllowed, nil, nil
		}
		return Matched, r.view, a
	}
	return NoMatch, nil, nil
}

// Dispatch matches req against the table and invokes the matched View,
// translating a no-match or method mismatch into the server's standard
// status codes. A View that returns a nil response is answered with 500. A
// panicking View is the caller's concern (pkg/server recovers around
// Dispatch so it can log the cause); Dispatch itself never recovers.
func Dispatch(t *Table, req *message.Request) *message.Response {
	outcome, view, args := t.Match(req.URL.Path, req.Method)
	switch outcome {
	case NoMatch:
		return message.NewResponse(message.StatusNotFound, nil)
	case MethodNotAllowed:
		return message.NewResponse(message.StatusNotImplemented, nil)
	}

	req.Args = args

	handled, ok := view.Handle(req)
	if !ok {
		return message.NewResponse(message.StatusNotImplemented, nil)
	}
	if handled == nil {
		return message.NewResponse(message.StatusInternalServerError, nil)
	}
	return handled
}
