package apperr

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Category is the fixed set of buckets remote errors are sorted into.
type Category string

const (
	NetworkError       Category = "network_error"
	InvalidCredentials Category = "invalid_credentials"
	EmailUnconfirmed   Category = "email_unconfirmed"
	AlreadyRegistered  Category = "already_registered"
	NotFound           Category = "not_found"
	ValidationError    Category = "validation_error"
	PermissionDenied   Category = "permission_denied"
	Unknown            Category = "unknown"
)

// Codes and messages used by the backend. The row-not-found code is kept
// compatible with PostgREST so mobile clients can share one mapping.
const (
	CodeNoRows           = "PGRST116"
	CodeUniqueViolation  = "23505"
	CodeInsufficientPriv = "42501"

	MsgInvalidCredentials = "Invalid login credentials"
	MsgEmailNotConfirmed  = "Email not confirmed"
	MsgAlreadyRegistered  = "User already registered"
)

// Error is a remote-style error carrying a machine code and a message.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

var networkMessages = []string{
	"failed to fetch",
	"network request failed",
	"networkerror",
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
}

// Classify maps err to a Category. Checks run in a fixed order and the first
// match wins: network, auth messages, not found, constraint violation,
// permission, unknown.
func Classify(err error) Category {
	if err == nil {
		return Unknown
	}
	msg := strings.ToLower(messageOf(err))
	code := codeOf(err)

	if isNetwork(err, msg) {
		return NetworkError
	}

	switch {
	case strings.Contains(msg, strings.ToLower(MsgInvalidCredentials)):
		return InvalidCredentials
	case strings.Contains(msg, strings.ToLower(MsgEmailNotConfirmed)):
		return EmailUnconfirmed
	case strings.Contains(msg, strings.ToLower(MsgAlreadyRegistered)):
		return AlreadyRegistered
	}

	if code == CodeNoRows || errors.Is(err, pgx.ErrNoRows) {
		return NotFound
	}
	if strings.HasPrefix(code, "23") {
		return ValidationError
	}
	if code == CodeInsufficientPriv {
		return PermissionDenied
	}
	return Unknown
}

func isNetwork(err error, msg string) bool {
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	for _, m := range networkMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

type coder interface {
	Code() string
}

func codeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Code != "" {
		return ae.Code
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		return pg.Code
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

func messageOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message + " " + err.Error()
	}
	var pg *pgconn.PgError
	if errors.As(err, &pg) {
		return pg.Message
	}
	return err.Error()
}

// Retryable reports whether a failure in this category may be attempted again.
func (c Category) Retryable() bool { return MaxAttempts(c) > 1 }

// Suppressed reports whether the category is expected and should not be
// shown to the user as a failure.
func (c Category) Suppressed() bool { return c == NotFound }

// HTTPStatus maps a category onto the response status code.
func HTTPStatus(c Category) int {
	switch c {
	case NetworkError:
		return http.StatusServiceUnavailable
	case InvalidCredentials:
		return http.StatusUnauthorized
	case EmailUnconfirmed:
		return http.StatusForbidden
	case AlreadyRegistered:
		return http.StatusConflict
	case NotFound:
		return http.StatusNotFound
	case ValidationError:
		return http.StatusUnprocessableEntity
	case PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a short message suitable for a confirmation dialog.
func UserMessage(c Category) string {
	switch c {
	case NetworkError:
		return "Unable to reach the server. Check your connection and try again."
	case InvalidCredentials:
		return "Invalid email or password."
	case EmailUnconfirmed:
		return "Please confirm your email address before signing in."
	case AlreadyRegistered:
		return "An account with this email already exists."
	case NotFound:
		return "The requested item was not found."
	case ValidationError:
		return "The request conflicts with existing data."
	case PermissionDenied:
		return "You do not have permission to do that."
	default:
		return "Something went wrong."
	}
}
