package stickybot

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a malformed rule set. It is fatal at startup.
type ConfigurationError struct {
	Field  string // e.g. rules[2].pattern
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Reason
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// FetchError indicates the submission listing could not be obtained.
// The cycle that hit it is skipped.
type FetchError struct {
	Subreddit string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch r/%s: %v", e.Subreddit, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchError checks if an error is a FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// ActionError indicates a single action failed to execute.
type ActionError struct {
	Err    error
	Action Action
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("execute %s: %v", e.Action, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// IsActionError checks if an error is an ActionError.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}
