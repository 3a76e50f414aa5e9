package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope. Code is a stable machine-readable
// reason, set on errors and on informational outcomes such as a repeated join.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// OKWithCode sends a 200 that carries a machine code alongside the data.
func OKWithCode(c *gin.Context, code string, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data, Code: code})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202, used when an operation was queued for someone else to resolve.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// Error sends status with a message and machine code.
func Error(c *gin.Context, status int, code, msg string) {
	c.JSON(status, Body{Success: false, Error: msg, Code: code})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	Error(c, http.StatusBadRequest, "invalid_input", err)
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	Error(c, http.StatusUnauthorized, "unauthorized", err)
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	Error(c, http.StatusInternalServerError, "internal", err)
}
