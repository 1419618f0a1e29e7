package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope is the uniform success wire shape. Errors take the matching
// {"success": false, "error": ...} shape via apperror.HTTPErrorHandler.
type Envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// OK writes a 200 response with the success envelope.
func OK(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Envelope{Success: true, Data: data})
}

// Created writes a 201 response with the success envelope.
func Created(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, Envelope{Success: true, Data: data})
}
