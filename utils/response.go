package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Business codes carried in the response envelope. Zero means success.
const (
	CodeInvalidSnapshot    = 40020
	CodeInvalidQuery       = 40021
	CodeInvalidVote        = 40022
	CodeCredentialMissing  = 40101
	CodeCredentialFormat   = 40102
	CodeCredentialEmpty    = 40103
	CodeCredentialRevoked  = 40104
	CodeCredentialInvalid  = 40105
	CodeUnauthorized       = 40110
	CodeRouteNotFound      = 40400
	CodeUnknownUser        = 40410
	CodeNoVote             = 40411
	CodeNoCountry          = 40412
	CodeRateLimited        = 42901
	CodeInternal           = 50000
	CodePersistenceTimeout = 50310
	CodeStaleWrite         = 50311
)

// JSONResponse defines the uniform structure for API responses.
type JSONResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Respond writes a JSON response with the given status code.
func Respond(ctx *gin.Context, status int, code int, message string, data interface{}) {
	ctx.JSON(status, JSONResponse{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success returns a standard success response.
func Success(ctx *gin.Context, data interface{}) {
	Respond(ctx, http.StatusOK, 0, "success", data)
}

// Error returns a standard error response.
func Error(ctx *gin.Context, status int, code int, message string) {
	Respond(ctx, status, code, message, nil)
}

// RateLimited rejects the request with 429 and tells the caller when to come back.
func RateLimited(ctx *gin.Context, retryAfter time.Duration) {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}
	ctx.Header("Retry-After", strconv.Itoa(secs))
	Respond(ctx, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded", gin.H{"retry_after_seconds": secs})
}
