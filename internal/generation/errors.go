package generation

import "errors"

// Common errors returned by generation backends
var (
	// ErrGenerationFailed is returned when image generation fails for any
	// general, non-retryable reason.
	ErrGenerationFailed = errors.New("failed to generate image")

	// ErrInvalidResponse is returned when the provider response cannot be
	// parsed or contains no image.
	ErrInvalidResponse = errors.New("invalid response from generation service")

	// ErrContentBlocked is returned when the provider blocks the prompt or
	// the produced image due to safety filters. Never retried.
	ErrContentBlocked = errors.New("content blocked by generation service safety filters")

	// ErrTransientFailure is returned for temporary errors (timeouts, rate
	// limits, overloaded service) that might resolve on retry.
	ErrTransientFailure = errors.New("transient error during image generation")

	// ErrInvalidConfig is returned when a backend configuration is invalid.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrUnknownFamily is returned by the registry when no backend is
	// registered for a requested model family.
	ErrUnknownFamily = errors.New("no backend registered for model family")
)

// IsTransient reports whether the error is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}
