package awsx

import (
	"errors"

	"github.com/aws/smithy-go"
)

// ErrorCode extracts the service error code from err, or "" when err
// is not an API error.
func ErrorCode(err error) string {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return ae.ErrorCode()
	}
	return ""
}

// IsCode reports whether err carries one of the given service error
// codes.
func IsCode(err error, codes ...string) bool {
	got := ErrorCode(err)
	if got == "" {
		return false
	}
	for _, c := range codes {
		if got == c {
			return true
		}
	}
	return false
}

// IsNotFound covers the "it does not exist" codes the pipeline's
// services answer with.
func IsNotFound(err error) bool {
	return IsCode(err,
		"NotFound",
		"404",
		"NoSuchBucket",
		"NoSuchEntity",
		"EntityNotFoundException",
		"ResourceNotFoundException",
		"AWS.SimpleQueueService.NonExistentQueue",
		"QueueDoesNotExist",
	)
}

// IsAlreadyExists covers the "already there" codes returned when a
// create races a prior run.
func IsAlreadyExists(err error) bool {
	return IsCode(err,
		"EntityAlreadyExists",
		"BucketAlreadyOwnedByYou",
		"BucketAlreadyExists",
		"ResourceConflictException",
		"AlreadyExistsException",
	)
}
