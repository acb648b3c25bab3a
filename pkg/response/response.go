package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/identity-api/internal/models"
	appErrors "github.com/noah-isme/identity-api/pkg/errors"
	"github.com/noah-isme/identity-api/pkg/middleware/requestid"
)

// Envelope represents the common response contract.
type Envelope struct {
	Data          interface{}            `json:"data,omitempty"`
	Error         *ErrorBody             `json:"error,omitempty"`
	Pagination    *models.Pagination     `json:"pagination,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// ErrorBody is the client-facing part of an error. Wrapped causes are never
// serialised.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

// JSON sends a success response with optional pagination metadata.
func JSON(c *gin.Context, status int, data interface{}, pagination *models.Pagination, meta ...map[string]interface{}) {
	noStore(c)
	envelope := Envelope{Data: data, Pagination: pagination, CorrelationID: requestid.Value(c)}
	if len(meta) > 0 && meta[0] != nil {
		envelope.Meta = meta[0]
	}
	c.JSON(status, envelope)
}

// Created responds with HTTP 201 Created.
func Created(c *gin.Context, data interface{}) {
	JSON(c, http.StatusCreated, data, nil)
}

// Error sends an error response converting the error to the common structure.
// BLOCKED errors also carry a Retry-After header in whole seconds.
func Error(c *gin.Context, err error) {
	appErr := appErrors.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	noStore(c)
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.FormatInt(appErr.RetryAfter, 10))
	}
	c.JSON(appErr.Status, Envelope{
		Error: &ErrorBody{
			Code:       appErr.Code,
			Message:    appErr.Message,
			RetryAfter: appErr.RetryAfter,
		},
		CorrelationID: requestid.Value(c),
	})
}

// NoContent sends a 204 response.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
}
