// Package errors normalises error values into short class names for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strconv"
	"strings"

	apperrors "github.com/target/vidrelay/internal/errors"
)

// Classify returns a normalized error type name suitable for tagging metrics/logs.
// Upstream HTTP failures are reported by status class (upstream_5xx) and context
// errors by their cause. Anything else unwraps to the innermost concrete type
// and converts it to snake_case-ish.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	var se *apperrors.StatusError
	if goerrors.As(err, &se) && se.StatusCode > 0 {
		return "upstream_" + strconv.Itoa(se.StatusCode/100) + "xx"
	}

	// Unwrap to the innermost error for better signal.
	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}

	name := strings.ToLower(strings.ReplaceAll(t.String(), "*", ""))
	name = strings.ReplaceAll(name, ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
