package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code,omitempty"`    // Ledger error kind
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response. Field details are filled
// only when validationErr carries validator errors.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	writeError(w, ErrorResponse{Error: message}, statusCode, validationErr)
}

// SendLedgerError maps a service error to its HTTP status and writes it.
// OperationFailed details are not exposed.
func SendLedgerError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	status := StatusFor(kind)
	message := "operation failed, please retry"
	var le *LedgerError
	if kind != KindOperationFailed && errors.As(err, &le) {
		message = le.Message
	}
	writeError(w, ErrorResponse{Error: message, Code: string(kind)}, status, nil)
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind ErrorKind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case KindForbidden, KindForbiddenCounterparty:
		return http.StatusForbidden
	case KindInvalidState:
		return http.StatusConflict
	case KindInvalidAmount, KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, resp ErrorResponse, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	var fieldErrs validator.ValidationErrors
	if errors.As(validationErr, &fieldErrs) {
		resp.Details = make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			resp.Details[fe.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", fe.Tag())
		}
	}

	json.NewEncoder(w).Encode(resp)
}
