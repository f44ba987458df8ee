package httputil

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nutricoach/scheduling-api/pkg/errors"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Response wraps all API responses
type Response struct {
	Status  string      `json:"status"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

func NewSuccessResponse(data interface{}) *Response {
	return &Response{Status: StatusSuccess, Data: data}
}

func NewErrorResponse(code errors.ErrorCode, message string) *Response {
	return &Response{Status: StatusError, Code: code.String(), Message: message}
}

// RespondWithSuccess sends a 200 success response
func RespondWithSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, NewSuccessResponse(data))
}

// RespondWithCreated sends a 201 success response
func RespondWithCreated(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, NewSuccessResponse(data))
}

// RespondWithError renders err with the HTTP status of its code. Errors that
// are not AppErrors are reported as internal without leaking their text.
func RespondWithError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		appErr = errors.NewInternal(err)
	}

	message := appErr.Message
	if appErr.Code == errors.ErrInternal {
		message = "internal server error"
	}
	c.AbortWithStatusJSON(appErr.StatusCode(), NewErrorResponse(appErr.Code, message))
}

// RespondWithDetails renders err like RespondWithError and attaches per-field details.
func RespondWithDetails(c *gin.Context, err *errors.AppError, details interface{}) {
	resp := NewErrorResponse(err.Code, err.Message)
	resp.Details = details
	c.AbortWithStatusJSON(err.StatusCode(), resp)
}
