package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	playground "github.com/go-playground/validator/v10"

	"github.com/nutricoach/scheduling-api/pkg/errors"
	"github.com/nutricoach/scheduling-api/pkg/httputil"
	"github.com/nutricoach/scheduling-api/pkg/validator"
)

// ValidationConfig represents validation middleware configuration
type ValidationConfig struct {
	CustomValidators map[string]playground.Func
}

// Validation configures gin's binding validator once and turns binding
// failures attached with c.Error into a 400 listing every offending field.
func Validation(config ValidationConfig) gin.HandlerFunc {
	if v, ok := binding.Validator.Engine().(*playground.Validate); ok {
		validator.Configure(v)
		for tag, fn := range config.CustomValidators {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}
	}

	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		for _, e := range c.Errors {
			if fields := validator.FieldErrors(e.Err); len(fields) > 0 {
				httputil.RespondWithDetails(c, errors.NewBadRequest("request validation failed", nil), fields)
				return
			}
		}
	}
}
