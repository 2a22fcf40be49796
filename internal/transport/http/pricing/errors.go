package pricinghttp

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/raphalvezz/loocac/internal/recommend"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

func statusFor(code string) int {
	switch code {
	case recommend.CodeNotConfigured, recommend.CodePolicyUnavailable:
		return http.StatusServiceUnavailable
	case recommend.CodeEncoding:
		return http.StatusUnprocessableEntity
	case recommend.CodePolicyError:
		return http.StatusBadGateway
	case recommend.CodePolicyTimeout:
		return http.StatusGatewayTimeout
	case recommend.CodeCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, code string, retryable bool, err error) {
	msg := code
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, errorBody{Error: msg, Code: code, Retryable: retryable})
}
