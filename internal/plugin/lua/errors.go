package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrModuleNotVisible is returned when no source visible to the domain
	// provides a module.
	ErrModuleNotVisible = errors.New("module is not visible")

	// ErrNoSuchMethod is returned when calling a method a table does not have.
	ErrNoSuchMethod = errors.New("no such method")

	// ErrModuleLoop is returned when a module requires itself while loading.
	ErrModuleLoop = errors.New("loop while loading module")
)
