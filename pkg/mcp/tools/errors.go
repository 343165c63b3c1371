package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Errors the caller can act on are returned as a tool result flagged
// IsError so the details reach the model instead of being swallowed as a
// protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors (invalid parameters, unknown schema).
// System failures should still be returned as Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
//
// Example:
//
//	return NewErrorResultWithDetails(
//	    "invalid_parameters",
//	    "limit out of range",
//	    map[string]any{"parameter": "limit", "max": 100, "actual": limit},
//	), nil
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorCodes maps service sentinel errors to tool error codes.
var serviceErrorCodes = []struct {
	err  error
	code string
}{
	{apperrors.ErrInvalidArgument, "invalid_parameters"},
	{apperrors.ErrNotRegistered, "schema_not_registered"},
	{apperrors.ErrAlreadyRegistered, "schema_already_registered"},
	{apperrors.ErrNotFound, "not_found"},
	{apperrors.ErrAlreadyRunning, "sync_already_running"},
	{apperrors.ErrInvalidTransition, "invalid_sync_state"},
	{apperrors.ErrConflict, "conflict"},
	{apperrors.ErrDimensionMismatch, "dimension_mismatch"},
	{apperrors.ErrInvalidEmbedding, "invalid_embedding"},
}

// HandleServiceError converts a service error into a tool result when the
// caller can act on it, and returns the error unchanged otherwise.
//
//	resp, err := deps.Search.Search(ctx, req)
//	if err != nil {
//	    return HandleServiceError(err)
//	}
func HandleServiceError(err error) (*mcp.CallToolResult, error) {
	for _, m := range serviceErrorCodes {
		if errors.Is(err, m.err) {
			return NewErrorResult(m.code, err.Error()), nil
		}
	}
	if code := SQLUserErrorCode(err); code != "" {
		return NewErrorResult(code, ExtractSQLErrorMessage(err)), nil
	}
	return nil, err
}

// SQLUserErrorCode returns an error code for PostgreSQL errors caused by the
// request (undefined table or column, bad input), or "" for server errors.
// Catalog reads against schemas the caller named surface these.
func SQLUserErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || len(pgErr.Code) < 2 {
		return ""
	}

	switch pgErr.Code {
	case "42703":
		return "undefined_column"
	case "42P01":
		return "undefined_table"
	case "3F000":
		return "undefined_schema"
	case "22P02":
		return "invalid_input"
	}

	switch pgErr.Code[:2] {
	case "22":
		return "data_exception"
	case "42":
		return "sql_error"
	}
	return ""
}

// ExtractSQLErrorMessage returns the PostgreSQL message without the SQLSTATE
// suffix and wrapping prefixes.
func ExtractSQLErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}

	msg := err.Error()
	if idx := strings.Index(msg, " (SQLSTATE"); idx != -1 {
		msg = msg[:idx]
	}
	return strings.TrimPrefix(msg, "ERROR: ")
}

// IsInputError reports whether err was caused by the request rather than a
// server failure. The tool auditor logs input errors at WARN, not ERROR.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	for _, m := range serviceErrorCodes {
		if errors.Is(err, m.err) {
			return true
		}
	}
	return SQLUserErrorCode(err) != ""
}
