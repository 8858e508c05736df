package objectstore

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"mediadrop/domain/storage"
)

// Error codes that mean the access key or session token must be renewed
var authExpiredCodes = map[string]bool{
	"ExpiredToken":         true,
	"InvalidToken":         true,
	"TokenRefreshRequired": true,
	"InvalidAccessKeyId":   true,
}

// Error codes that mean the caller should slow down
var throttleCodes = map[string]bool{
	"SlowDown":             true,
	"TooManyRequests":      true,
	"RequestLimitExceeded": true,
	"ThrottlingException":  true,
	"ServiceUnavailable":   true,
}

// translate maps an SDK error onto the storage error taxonomy
func translate(op, key string, err error) error {
	status := 0
	var retryAfter time.Duration
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
		if respErr.Response != nil && respErr.Response.Response != nil {
			retryAfter = parseRetryAfter(respErr.Response.Header.Get("Retry-After"))
		}
	}

	var (
		notFound *types.NotFound
		noKey    *types.NoSuchKey
		noBucket *types.NoSuchBucket
	)
	switch {
	case errors.As(err, &notFound), errors.As(err, &noKey), errors.As(err, &noBucket):
		return &storage.OpError{Op: op, Path: key, Status: http.StatusNotFound, Err: storage.ErrNotFound}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case authExpiredCodes[code]:
			return &storage.OpError{Op: op, Path: key, Status: status, Err: fmt.Errorf("%w: %w", storage.ErrAuthExpired, err)}
		case throttleCodes[code]:
			return &storage.OpError{Op: op, Path: key, Status: status, Err: &storage.RateLimitError{RetryAfter: retryAfter, Err: err}}
		case code == "NotFound":
			return &storage.OpError{Op: op, Path: key, Status: http.StatusNotFound, Err: storage.ErrNotFound}
		}
	}

	switch status {
	case http.StatusNotFound:
		return &storage.OpError{Op: op, Path: key, Status: status, Err: storage.ErrNotFound}
	case http.StatusTooManyRequests:
		return &storage.OpError{Op: op, Path: key, Status: status, Err: &storage.RateLimitError{RetryAfter: retryAfter, Err: err}}
	case http.StatusUnauthorized:
		return &storage.OpError{Op: op, Path: key, Status: status, Err: fmt.Errorf("%w: %w", storage.ErrAuthExpired, err)}
	}

	return &storage.OpError{Op: op, Path: key, Status: status, Err: err}
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
