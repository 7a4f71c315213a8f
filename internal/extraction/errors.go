package extraction

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrRateLimited is returned when the AI provider throttles requests.
	ErrRateLimited = errors.New("rate limit exceeded, please try again in a moment")
	// ErrQuotaExhausted is returned when the AI account has no credits left.
	ErrQuotaExhausted = errors.New("AI credits exhausted, please add credits to continue")
	// ErrNoResponse is returned when the model produced neither a function
	// call nor text.
	ErrNoResponse = errors.New("no response from AI")
	// ErrUpstream wraps every other provider failure.
	ErrUpstream = errors.New("AI provider error")
)

// classify maps a provider error onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			if isQuotaMessage(gerr.Message) {
				return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
			}
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.ResourceExhausted:
			if isQuotaMessage(st.Message()) {
				return fmt.Errorf("%w: %v", ErrQuotaExhausted, err)
			}
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case codes.Canceled, codes.DeadlineExceeded:
			return err
		}
	}

	return fmt.Errorf("%w: %v", ErrUpstream, err)
}

func isQuotaMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "billing") ||
		strings.Contains(msg, "credits") ||
		strings.Contains(msg, "exceeded your current quota")
}
