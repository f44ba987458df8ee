package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/httputil"
	"github.com/nutricoach/scheduling-api/pkg/validator"
)

// ErrorHandler renders the last error attached with c.Error when nothing has
// been written yet. Storage failures are logged at error, the rest at warn.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		requestID := c.GetString(ContextRequestID)
		for _, e := range c.Errors {
			code := errors.Code(e.Err)
			fields := validator.FieldErrors(e.Err)
			event := log.Warn()
			if code == errors.ErrInternal && fields == nil {
				event = log.Error()
			}
			event.
				Err(e.Err).
				Str("request_id", requestID).
				Str("path", c.Request.URL.Path).
				Str("method", c.Request.Method).
				Str("code", code.String()).
				Msg("Request error")
		}

		if c.Writer.Written() {
			return
		}
		last := c.Errors.Last().Err
		if fields := validator.FieldErrors(last); fields != nil {
			httputil.RespondWithDetails(c, errors.NewBadRequest("request validation failed", nil), fields)
			return
		}
		httputil.RespondWithError(c, last)
	}
}
