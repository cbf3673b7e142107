package validation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/Subhanamir19/faccely-sub002/internal/apperr"
)

// BindAndValidate binds the JSON body into out and runs validation. The raw
// body stays cached on the context under gin.BodyBytesKey for fingerprinting.
// On failure it writes a 400 and returns the error so the handler can
// short-circuit.
func BindAndValidate(c *gin.Context, out interface{}, v *validatorv10.Validate) error {
	if err := c.ShouldBindBodyWith(out, binding.JSON); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   apperr.CodeInvalidRequest,
			"message": "request body is not valid JSON",
		})
		return err
	}

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  apperr.CodeInvalidRequest,
			"fields": validationErrorsToMap(err),
		})
		return err
	}
	return nil
}

// CacheBody reads the request body once and keeps it under gin.BodyBytesKey,
// where ShouldBindBodyWith and RawBody find it.
func CacheBody(c *gin.Context) ([]byte, error) {
	if raw := RawBody(c); raw != nil {
		return raw, nil
	}
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if body == nil {
		body = []byte{}
	}
	c.Set(gin.BodyBytesKey, body)
	return body, nil
}

// RawBody returns the body cached by CacheBody or BindAndValidate.
func RawBody(c *gin.Context) []byte {
	if b, ok := c.Get(gin.BodyBytesKey); ok {
		if raw, ok := b.([]byte); ok {
			return raw
		}
	}
	return nil
}

func validationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else {
		out["error"] = err.Error()
	}
	return out
}
