package llm

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/pactum/internal/common"
	"github.com/ternarybob/pactum/internal/interfaces"
)

// IsRateLimitError checks if an error is a provider rate limit error.
// Matches 429 status codes, Gemini RESOURCE_EXHAUSTED and quota messages.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "rate_limit_error")
}

// retryDelayRegex matches "Please retry in Xs" or "retryDelay:Xs" patterns
var retryDelayRegex = regexp.MustCompile(`(?i)(?:Please retry in |retryDelay[:\s]+)(\d+(?:\.\d+)?)\s*s`)

// statusCodeRegex matches the status in "Error 503, Message: ..." (genai) and
// `POST "https://...": 529 Overloaded` (anthropic)
var statusCodeRegex = regexp.MustCompile(`(?:Error |": )(\d{3})\b`)

// ExtractRetryDelay parses the API-suggested retry delay from a provider error.
// Returns 0 if no delay is found in the error message.
//
// Example error message:
// "Error 429, Message: ... Please retry in 45.387061394s., Status: RESOURCE_EXHAUSTED"
func ExtractRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}

	matches := retryDelayRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		return 0
	}

	seconds, parseErr := strconv.ParseFloat(matches[1], 64)
	if parseErr != nil {
		return 0
	}

	return time.Duration(seconds * float64(time.Second))
}

// ExtractStatusCode parses the HTTP status out of a provider error message, 0 if absent
func ExtractStatusCode(err error) int {
	if err == nil {
		return 0
	}
	matches := statusCodeRegex.FindStringSubmatch(err.Error())
	if len(matches) < 2 {
		if IsRateLimitError(err) {
			return 429
		}
		return 0
	}
	code, _ := strconv.Atoi(matches[1])
	return code
}

// wrapProviderError converts a provider SDK error into an interfaces.StatusError when a status
// can be recovered, so the extraction client can classify it without knowing the SDK
func wrapProviderError(provider common.LLMProvider, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) {
		return err
	}

	code := ExtractStatusCode(err)
	if code == 0 {
		return err
	}
	return &interfaces.StatusError{
		StatusCode: code,
		Message:    string(provider) + ": " + err.Error(),
		RetryAfter: ExtractRetryDelay(err),
	}
}
