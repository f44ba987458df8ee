package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrNotFound:            http.StatusNotFound,
		ErrBadRequest:          http.StatusBadRequest,
		ErrInvalidSlotRange:    http.StatusBadRequest,
		ErrInvalidInterval:     http.StatusBadRequest,
		ErrPastSchedule:        http.StatusBadRequest,
		ErrOutsideAvailability: http.StatusUnprocessableEntity,
		ErrUnauthorized:        http.StatusUnauthorized,
		ErrForbidden:           http.StatusForbidden,
		ErrNotLinked:           http.StatusForbidden,
		ErrSlotConflict:        http.StatusConflict,
		ErrTerminalState:       http.StatusConflict,
		ErrInternal:            http.StatusInternalServerError,
	}
	for code, want := range cases {
		err := &AppError{Code: code}
		assert.Equal(t, want, err.StatusCode(), code.String())
	}
}

func TestCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("booking: %w", NewSlotConflict(nil))

	assert.Equal(t, ErrSlotConflict, Code(err))
	assert.True(t, IsCode(err, ErrSlotConflict))
	assert.True(t, stderrors.Is(err, SlotConflict))
	assert.False(t, stderrors.Is(err, NotLinked))
}

func TestPlainErrorsAreInternal(t *testing.T) {
	assert.Equal(t, ErrInternal, Code(stderrors.New("boom")))
	assert.False(t, IsCode(nil, ErrInternal))
}

func TestInvalidSlotRangeNamesDay(t *testing.T) {
	err := NewInvalidSlotRange("tuesday", "end must be after start")
	assert.Contains(t, err.Error(), "tuesday")
}

func TestInternalHidesCause(t *testing.T) {
	err := NewInternal(stderrors.New("pq: connection refused"))
	assert.Equal(t, "internal server error", err.Message)
	assert.ErrorContains(t, err, "connection refused")
}
