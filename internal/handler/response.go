package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// apiResponse is the envelope every endpoint returns. Code 0 marks success;
// errors reuse the HTTP status as the code.
type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	respond(c, http.StatusOK, 0, "ok", data, meta)
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	respond(c, status, status, message, nil, meta)
}

func respond(c *gin.Context, status, code int, message string, data any, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    code,
		Message: message,
		Data:    data,
		Meta:    meta,
	})
}
