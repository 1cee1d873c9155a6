package stream

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strconv"
	"strings"
)

var (
	ErrNotFound            = errors.New("file not found")
	ErrForbidden           = errors.New("file not readable")
	ErrBadRequest          = errors.New("bad request")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrMethodNotAllowed    = errors.New("method not allowed")
)

// ErrorCode is a string identifier for an error condition, suitable for logs.
type ErrorCode string

const (
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeRangeNotSatisfiable ErrorCode = "RANGE_NOT_SATISFIABLE"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeMethodNotAllowed    ErrorCode = "METHOD_NOT_ALLOWED"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// HTTPError is a terminal error of a transfer, mapped 1:1 to a response status.
type HTTPError struct {
	Code    ErrorCode
	Status  int
	Message string
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

var sentinels = map[error]struct {
	code   ErrorCode
	status int
}{
	ErrNotFound:            {CodeNotFound, http.StatusNotFound},
	ErrForbidden:           {CodeForbidden, http.StatusForbidden},
	ErrBadRequest:          {CodeInvalidInput, http.StatusBadRequest},
	ErrRangeNotSatisfiable: {CodeRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable},
	ErrUnauthorized:        {CodeUnauthorized, http.StatusUnauthorized},
	ErrMethodNotAllowed:    {CodeMethodNotAllowed, http.StatusMethodNotAllowed},
}

// NewHTTPError wraps one of the package sentinels with an optional message.
func NewHTTPError(sentinel error, message string) *HTTPError {
	m, ok := sentinels[sentinel]
	if !ok {
		return &HTTPError{Code: CodeInternal, Status: http.StatusInternalServerError, Message: message, Err: sentinel}
	}
	return &HTTPError{Code: m.code, Status: m.status, Message: message, Err: sentinel}
}

var errorTitles = map[int]string{
	http.StatusBadRequest:                   "Bad Request",
	http.StatusUnauthorized:                 "Unauthorized",
	http.StatusForbidden:                    "Forbidden",
	http.StatusNotFound:                     "Not Found",
	http.StatusMethodNotAllowed:             "Method Not Allowed",
	http.StatusRequestedRangeNotSatisfiable: "Requested range not satisfiable",
}

const errorPage = `<html>
	<head>
		<title>{title}</title>
	</head>
	<body>
		<h4>{status_code} : {message}!.</h4>
	</body>
</html>`

// StatusOf returns the response status for err.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return http.StatusInternalServerError
}

// RenderError returns the error page body for status. An empty message
// defaults to the status title.
func RenderError(status int, message string) string {
	title, ok := errorTitles[status]
	if !ok {
		title = http.StatusText(status)
	}
	if message == "" {
		message = title
	}

	return strings.NewReplacer(
		"{title}", title,
		"{status_code}", strconv.Itoa(status),
		"{message}", message,
	).Replace(errorPage)
}

// WriteError terminates the response with the error page for err. The
// message of an HTTPError is shown escaped; other errors show the status
// title only.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusOf(err)
	var message string
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.Message != "" {
		message = html.EscapeString(httpErr.Error())
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Del("Content-Length")
	w.Header().Del("Content-Range")
	w.Header().Del("Content-Disposition")
	w.WriteHeader(status)
	fmt.Fprint(w, RenderError(status, message))
}
