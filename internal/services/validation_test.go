package services

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

// Field tags below mirror the HTTP request bodies.
type accountDTO struct {
	Name  string `validate:"required"`
	Phone string `validate:"omitempty,e164"`
	Role  string `validate:"required,oneof=user agent admin"`
}

type statePushDTO struct {
	ReceiverID    string `validate:"required"`
	DeductionMode string `validate:"omitempty,oneof=on_top deducted"`
}

type rejectDTO struct {
	Reason string `validate:"max=255"`
}

type autoCashoutDTO struct {
	Enabled *bool `validate:"required"`
}

func fieldErrors(t *testing.T, err error) map[string]string {
	t.Helper()
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		t.Fatalf("expected validation errors, got %v", err)
	}
	out := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()
	enabled := false

	t.Run("valid bodies", func(t *testing.T) {
		assert.NoError(t, vh.ValidateStruct(&accountDTO{Name: "Kiosk 4", Phone: "+2348012345678", Role: "agent"}))
		assert.NoError(t, vh.ValidateStruct(&accountDTO{Name: "Bola", Role: "user"}))
		assert.NoError(t, vh.ValidateStruct(&statePushDTO{ReceiverID: "lagos"}))
		assert.NoError(t, vh.ValidateStruct(&statePushDTO{ReceiverID: "lagos", DeductionMode: "deducted"}))
		assert.NoError(t, vh.ValidateStruct(&rejectDTO{}))
		assert.NoError(t, vh.ValidateStruct(&autoCashoutDTO{Enabled: &enabled}))
	})

	t.Run("account role and phone", func(t *testing.T) {
		err := vh.ValidateStruct(&accountDTO{Name: "Dan", Phone: "08012345678", Role: "root"})
		assert.Equal(t, map[string]string{"Phone": "e164", "Role": "oneof"}, fieldErrors(t, err))

		err = vh.ValidateStruct(&accountDTO{})
		assert.Equal(t, map[string]string{"Name": "required", "Role": "required"}, fieldErrors(t, err))
	})

	t.Run("deduction mode", func(t *testing.T) {
		err := vh.ValidateStruct(&statePushDTO{DeductionMode: "half"})
		assert.Equal(t, map[string]string{"ReceiverID": "required", "DeductionMode": "oneof"}, fieldErrors(t, err))
	})

	t.Run("reject reason length", func(t *testing.T) {
		err := vh.ValidateStruct(&rejectDTO{Reason: strings.Repeat("x", 256)})
		assert.Equal(t, map[string]string{"Reason": "max"}, fieldErrors(t, err))
	})

	t.Run("explicit false is present", func(t *testing.T) {
		err := vh.ValidateStruct(&autoCashoutDTO{})
		assert.Equal(t, map[string]string{"Enabled": "required"}, fieldErrors(t, err))
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "limit must be a non-negative integer", http.StatusBadRequest, nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "limit must be a non-negative integer", response.Error)
		assert.Empty(t, response.Code)
		assert.Nil(t, response.Details)
	})

	t.Run("validation details", func(t *testing.T) {
		validationErr := NewValidationHelper().ValidateStruct(&accountDTO{Name: "Dan", Role: "root"})

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Equal(t, map[string]string{"Role": "Field Validation Failed on 'oneof' tag"}, response.Details)
	})
}

func TestSendErrorResponse_NonValidatorError(t *testing.T) {
	w := httptest.NewRecorder()

	assert.NotPanics(t, func() {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, errors.New("unexpected EOF"))
	})

	var response ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "Invalid request body", response.Error)
	assert.Nil(t, response.Details)
}

func TestSendLedgerError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{newError(KindNotFound, "account not found"), http.StatusNotFound, "account not found"},
		{newError(KindInsufficientBalance, "insufficient balance"), http.StatusUnprocessableEntity, "insufficient balance"},
		{newError(KindForbidden, "admin role required"), http.StatusForbidden, "admin role required"},
		{newError(KindForbiddenCounterparty, "users can only transfer to other users"), http.StatusForbidden, "users can only transfer to other users"},
		{newError(KindInvalidState, "transfer is completed, not pending"), http.StatusConflict, "transfer is completed, not pending"},
		{newError(KindInvalidAmount, "amount must be greater than zero"), http.StatusBadRequest, "amount must be greater than zero"},
		{operationFailed("could not acquire lock", errors.New("redis: timeout")), http.StatusInternalServerError, "operation failed, please retry"},
		{errors.New("raw"), http.StatusInternalServerError, "operation failed, please retry"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		SendLedgerError(w, tc.err)

		assert.Equal(t, tc.status, w.Code)
		var response ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, tc.msg, response.Error)
		assert.Equal(t, string(KindOf(tc.err)), response.Code)
	}
}
