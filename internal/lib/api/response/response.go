package response

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func OK(c *gin.Context, fields gin.H) {
	body := gin.H{"success": true}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

func Error(c *gin.Context, status int, msg string) {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"error": msg})
}

// BindError reports a failed ShouldBindJSON. Validation failures are turned
// into one readable line per field.
func BindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": ValidationMessage(verrs),
		})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request",
		"details": err.Error(),
	})
}

func ValidationMessage(errs validator.ValidationErrors) string {
	var msgs []string

	for _, err := range errs {
		field := strings.ToLower(err.Field())
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", field))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of [%s]", field, err.Param()))
		case "min", "max", "len":
			msgs = append(msgs, fmt.Sprintf("field %s must satisfy %s=%s", field, err.ActualTag(), err.Param()))
		case "numeric":
			msgs = append(msgs, fmt.Sprintf("field %s must be a number", field))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", field))
		}
	}

	return strings.Join(msgs, ", ")
}
