package route

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rawcore/webcc/pkg/message"
	"github.com/rawcore/webcc/pkg/urlval"
)

func newReq(method, path string) *message.Request {
	return &message.Request{
		Method: method,
		URL:    &urlval.URL{Path: path},
	}
}

func TestDispatchLiteralMatch(t *testing.T) {
	table := NewTable()
	table.AddLiteral("/books", []string{message.MethodGet}, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	resp := Dispatch(table, newReq(message.MethodGet, "/books"))
	require.Equal(t, message.StatusOK, resp.StatusCode)
}

func TestDispatchNoMatchIs404(t *testing.T) {
	table := NewTable()
	table.AddLiteral("/books", nil, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	resp := Dispatch(table, newReq(message.MethodGet, "/missing"))
	require.Equal(t, message.StatusNotFound, resp.StatusCode)
}

func TestDispatchMethodMismatchIs501(t *testing.T) {
	table := NewTable()
	table.AddLiteral("/books", []string{message.MethodGet}, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	resp := Dispatch(table, newReq(message.MethodPost, "/books"))
	require.Equal(t, message.StatusNotImplemented, resp.StatusCode)
}

func TestDispatchViewDecliningMethodIs501(t *testing.T) {
	table := NewTable()
	table.AddLiteral("/books", nil, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			if req.Method != message.MethodGet {
				return nil, false
			}
			return message.NewResponse(message.StatusOK, nil), true
		}))

	resp := Dispatch(table, newReq(message.MethodDelete, "/books"))
	require.Equal(t, message.StatusNotImplemented, resp.StatusCode)
}

func TestDispatchPatternCapturesArgs(t *testing.T) {
	table := NewTable()
	var gotArgs []string
	err := table.AddPattern(`/books/(\d+)`, []string{message.MethodGet}, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			gotArgs = req.Args
			return message.NewResponse(message.StatusOK, nil), true
		}))
	require.NoError(t, err)

	resp := Dispatch(table, newReq(message.MethodGet, "/books/42"))
	require.Equal(t, message.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"42"}, gotArgs)
}

func TestDispatchPatternAnchoredBothEnds(t *testing.T) {
	table := NewTable()
	err := table.AddPattern(`/books/(\d+)`, nil, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))
	require.NoError(t, err)

	resp := Dispatch(table, newReq(message.MethodGet, "/books/42/extra"))
	require.Equal(t, message.StatusNotFound, resp.StatusCode, "expected 404 for unanchored overmatch")
}

func TestDispatchFirstMatchWins(t *testing.T) {
	table := NewTable()
	table.AddLiteral("/books", []string{message.MethodGet}, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusCreated, nil), true
		}))
	// A later, more permissive rule for the same literal path must never be
	// consulted once the first rule's path has matched.
	table.AddLiteral("/books", nil, ViewFunc(
		func(req *message.Request) (*message.Response, bool) {
			return message.NewResponse(message.StatusOK, nil), true
		}))

	resp := Dispatch(table, newReq(message.MethodGet, "/books"))
	require.Equal(t, message.StatusCreated, resp.StatusCode, "expected 201 from the first registered rule")
}

func TestAddPatternRejectsInvalidRegexp(t *testing.T) {
	table := NewTable()
	err := table.AddPattern(`/books/(`, nil, ViewFunc(
		func(req *message.Request) (*message.Response, bool) { return nil, false }))
	require.Error(t, err)
}
