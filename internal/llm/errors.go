package llm

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// ErrFatalAPI marks provider errors that retrying cannot fix: bad credentials,
// exhausted credit or billing problems. The job runner pauses the batch
// instead of burning the job's retry budget. Rate limiting (429) is not
// fatal; the job is retried.
var ErrFatalAPI = errors.New("fatal LLM API error")

// fatalStatus are HTTP statuses that mean the account, not the request, is
// the problem.
var fatalStatus = []int{401, 402, 403}

// fatalErrorCodes are Bedrock error codes for broken credentials.
var fatalErrorCodes = []string{
	"AccessDeniedException",
	"UnrecognizedClientException",
	"ExpiredTokenException",
	"InvalidSignatureException",
}

// fatalMarkers catch providers that only report the cause in the message.
var fatalMarkers = []string{
	"credit balance",
	"insufficient_quota",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"api key not valid",
	"authentication_error",
	"permission_denied",
	"unauthorized",
}

// statusPattern finds a status code announced as such in an error message,
// for example "status code: 401", "HTTP 403" or genai's "Error 401,".
var statusPattern = regexp.MustCompile(`(?i)\b(?:status code|status|http|error)\s*:?\s*([1-5]\d\d)\b`)

// statusCode extracts the HTTP status of a provider error, or 0.
func statusCode(err error) int {
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatusCode()
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	if slices.Contains(fatalStatus, statusCode(err)) {
		return true
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) && slices.Contains(fatalErrorCodes, coded.ErrorCode()) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrapFatalError tags err with ErrFatalAPI when it looks fatal and returns
// it unchanged otherwise.
func wrapFatalError(err error) error {
	if !isFatalAPIError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFatalAPI, err)
}
