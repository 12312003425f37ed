package http

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required,max=254"`
	Secret     string `json:"secret" binding:"required,max=256"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required,max=4096"`
}

var registerTagNames sync.Once

// useJSONFieldNames makes validation errors report json field names
func useJSONFieldNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
}

// bindJSON decodes and validates the body into dst. On failure it writes a
// 400 VALIDATION_ERROR body and returns false.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	_ = c.Error(err)

	body := gin.H{"code": CodeValidation, "error": "invalid request"}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = msgForTag(fe)
		}
		body["fields"] = fields
	} else {
		body["error"] = "request body must be valid JSON"
	}

	c.AbortWithStatusJSON(http.StatusBadRequest, body)
	return false
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
