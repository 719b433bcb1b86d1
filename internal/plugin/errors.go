package plugin

import (
	"errors"
	"fmt"
)

// Name prefixes every error the plugin reports.
const Name = "asset-syncer"

var (
	ErrConfiguration = errors.New("configuration error")
	ErrListing       = errors.New("listing error")
	ErrRewrite       = errors.New("rewrite error")
	ErrUpload        = errors.New("upload error")
	ErrInvalidation  = errors.New("invalidation error")
)

// Error is a failed pipeline stage. errors.Is matches both Kind and the
// underlying cause.
type Error struct {
	Kind error
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v: %v", Name, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}
