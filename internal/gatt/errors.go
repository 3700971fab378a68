package gatt

import (
	"errors"
	"fmt"
)

// ErrInvalidArgs is the only error class reported back across the host boundary.
var ErrInvalidArgs = errors.New("invalid arguments")

// InterfaceError reports a property query for an interface the object does not implement.
type InterfaceError struct {
	Path      Path
	Interface string
}

func (e *InterfaceError) Error() string {
	return fmt.Sprintf("%s: interface %q not implemented by %s", ErrInvalidArgs, e.Interface, e.Path)
}

// Unwrap lets errors.Is match ErrInvalidArgs.
func (e *InterfaceError) Unwrap() error {
	return ErrInvalidArgs
}

// NotFoundError reports a lookup of an object path that is not part of the tree.
type NotFoundError struct {
	Resource string // "service", "characteristic", "descriptor"
	Path     Path
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Path)
}

// Is lets errors.Is match NotFoundError values by Resource. A target with an
// empty Resource matches any lookup failure.
func (e *NotFoundError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*NotFoundError)
	if !ok {
		return false
	}
	return t.Resource == "" || e.Resource == t.Resource
}
