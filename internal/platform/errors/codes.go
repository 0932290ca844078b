// Package errors provides structured error handling for the access service.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Policy errors
	CodePolicyResourceRequired Code = "POLICY_RESOURCE_REQUIRED"
	CodePolicyInvalidRole      Code = "POLICY_INVALID_ROLE"

	// Grant errors
	CodeAlreadyJoined       Code = "ALREADY_JOINED"
	CodeNotMember           Code = "NOT_MEMBER"
	CodeAccessDenied        Code = "ACCESS_DENIED"
	CodeGrantSessionMissing Code = "GRANT_SESSION_MISSING"
	CodeGrantAccountMissing Code = "GRANT_ACCOUNT_MISSING"

	// Presence errors
	CodePresenceInvalidSubject Code = "PRESENCE_INVALID_SUBJECT"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodePolicyResourceRequired,
		CodePolicyInvalidRole,
		CodeGrantSessionMissing,
		CodeGrantAccountMissing,
		CodePresenceInvalidSubject:
		return http.StatusBadRequest

	// Not found - missing records
	case CodeNotFound,
		CodeNotMember:
		return http.StatusNotFound

	// Conflict - duplicate creation
	case CodeAlreadyExists,
		CodeAlreadyJoined:
		return http.StatusConflict

	// Forbidden - no entry role available for the identity class
	case CodeAccessDenied:
		return http.StatusForbidden

	default:
		return http.StatusInternalServerError
	}
}
