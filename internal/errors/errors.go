package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotFound           = errors.New("resource not found")
	ErrConflict           = errors.New("resource conflict")
	ErrBadRequest         = errors.New("bad request")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrPreconditionFailed = errors.New("precondition failed")

	// Business errors
	ErrRideAlreadyTaken    = errors.New("ride already taken")
	ErrInvalidTransition   = errors.New("invalid state transition")
	ErrUserHasActiveRide   = errors.New("user already has an active ride")
	ErrNotParticipant      = errors.New("not a participant of this ride")
	ErrProviderNotVerified = errors.New("driver account is not verified")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrEmailTaken          = errors.New("email already registered")
	ErrNoActiveRide        = errors.New("no active ride")
)

// Kind classifies failures the way clients react to them.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuth
	KindStoreWrite
	KindStaleState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindStoreWrite:
		return "store_write"
	case KindStaleState:
		return "stale_state"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(op, message string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: message}
}

func Auth(op string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

func StoreWrite(op string, err error) *Error {
	return &Error{Kind: KindStoreWrite, Op: op, Err: err}
}

func StaleState(op string, err error) *Error {
	return &Error{Kind: KindStaleState, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// UserMessage turns err into the text shown to a person.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindValidation:
			if e.Message != "" {
				return e.Message
			}
			return "Please fill in all fields"
		case KindAuth:
			switch {
			case errors.Is(err, ErrInvalidCredentials):
				return "Invalid email or password"
			case errors.Is(err, ErrEmailTaken):
				return "An account with this email already exists"
			case errors.Is(err, ErrProviderNotVerified):
				return "Your driver account is currently under review"
			}
			return "Failed to sign in"
		case KindStaleState:
			return "Ride was cancelled"
		case KindStoreWrite:
			return "Something went wrong, please try again"
		}
	}

	switch {
	case errors.Is(err, ErrRideAlreadyTaken):
		return "Request already taken"
	case errors.Is(err, ErrUserHasActiveRide):
		return "You already have an active ride"
	}
	return "Something went wrong, please try again"
}

// APIError represents a structured API error
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return e.Message
}

// NewAPIError creates a new API error
func NewAPIError(code, message string, statusCode int) *APIError {
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Common API errors
func NotFound(resource string) *APIError {
	return NewAPIError("not_found", fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func BadRequest(message string) *APIError {
	return NewAPIError("bad_request", message, http.StatusBadRequest)
}

func Conflict(message string) *APIError {
	return NewAPIError("conflict", message, http.StatusConflict)
}

func InternalError(message string) *APIError {
	return NewAPIError("internal_error", message, http.StatusInternalServerError)
}

func Unauthorized(message string) *APIError {
	return NewAPIError("unauthorized", message, http.StatusUnauthorized)
}

func Forbidden(message string) *APIError {
	return NewAPIError("forbidden", message, http.StatusForbidden)
}

func RideAlreadyTaken() *APIError {
	return NewAPIError("ride_already_taken", "this ride has been taken by another driver", http.StatusConflict)
}

func InvalidTransition(from, action string) *APIError {
	return NewAPIError("invalid_transition", fmt.Sprintf("cannot %s a ride that is %s", action, from), http.StatusConflict)
}

func UserHasActiveRide() *APIError {
	return NewAPIError("active_ride_exists", "you already have an active ride", http.StatusConflict)
}

// ToAPIError maps any error returned by the services onto its HTTP shape.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindValidation:
			return NewAPIError("validation_error", e.Message, http.StatusBadRequest)
		case KindAuth:
			if errors.Is(err, ErrProviderNotVerified) || errors.Is(err, ErrForbidden) {
				return Forbidden(UserMessage(err))
			}
			if errors.Is(err, ErrEmailTaken) {
				return Conflict(UserMessage(err))
			}
			return Unauthorized(UserMessage(err))
		case KindStaleState:
			return NewAPIError("stale_state", "ride is no longer active", http.StatusConflict)
		}
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return NotFound("ride")
	case errors.Is(err, ErrRideAlreadyTaken):
		return RideAlreadyTaken()
	case errors.Is(err, ErrInvalidTransition):
		return NewAPIError("invalid_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, ErrUserHasActiveRide):
		return UserHasActiveRide()
	case errors.Is(err, ErrNotParticipant):
		return Forbidden("you are not part of this ride")
	default:
		return InternalError("internal server error")
	}
}
