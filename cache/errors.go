package cache

import (
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

// Text codes attached to errors raised by the engine.
const (
	TextCodeSettingsMissing    = "SETTINGS_MISSING"
	TextCodeStrategyUnresolved = "STRATEGY_UNRESOLVED"
	TextCodeInvalidSettings    = "INVALID_SETTINGS"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
	TextCodeStoreFailure       = "STORE_FAILURE"
	TextCodeRefreshFailed      = "REFRESH_FAILED"
	TextCodeFilterFailed       = "FILTER_FAILED"
)

// NewConfigurationError reports a caller misconfiguration. These errors are
// raised at call time and never retried.
func NewConfigurationError(textCode, message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).WithTextCode(textCode)
}

// WrapConfigurationError wraps a validation failure as a configuration error.
func WrapConfigurationError(err error, textCode, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryValidation, message).WithTextCode(textCode)
}

// WrapStoreError wraps a failure returned by a cache store backend.
func WrapStoreError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).WithTextCode(TextCodeStoreFailure)
}

// WrapRefreshError wraps a failure of a background refresh.
func WrapRefreshError(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).WithTextCode(TextCodeRefreshFailed)
}

// IsConfigurationError reports whether err was caused by a misconfigured call.
func IsConfigurationError(err error) bool {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Category == goerrors.CategoryValidation
}

// IsStoreError reports whether err originated in a cache store.
func IsStoreError(err error) bool {
	return HasTextCode(err, TextCodeStoreFailure)
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, textCode string) bool {
	var e *goerrors.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.TextCode == textCode
}
