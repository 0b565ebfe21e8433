package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Plugin system errors.
var (
	// ErrMissingField is returned when a required manifest field is absent.
	ErrMissingField = errors.New("manifest: required field missing")

	// ErrInvalidKey is returned when a plugin key is not a valid identifier.
	ErrInvalidKey = errors.New("manifest: key must be lowercase alphanumeric with hyphens")

	// ErrInvalidField is returned when a manifest field has the wrong type or format.
	ErrInvalidField = errors.New("manifest: invalid field")

	// ErrAlreadyLoaded is returned when loading while a module set is live.
	ErrAlreadyLoaded = errors.New("plugins are already loaded")

	// ErrNotLoaded is returned when unloading with no live module set.
	ErrNotLoaded = errors.New("plugins are not loaded")

	// ErrEntryPointNotFound is returned when an entry-point module is not visible.
	ErrEntryPointNotFound = errors.New("entry point not found")

	// ErrIncompatibleFormat is returned for precompiled chunks the host cannot run.
	ErrIncompatibleFormat = errors.New("incompatible module format")

	// ErrBadEntryPoint is returned when an entry point does not produce a table.
	ErrBadEntryPoint = errors.New("entry point must return a table or a constructor returning a table")
)

// ManifestError reports a bundle whose manifest cannot be turned into a
// descriptor. It is fatal to that bundle only.
type ManifestError struct {
	Path string
	Err  error
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid plugin bundle %s: %v", e.Path, e.Err)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// DuplicatePluginKeyError reports two bundles declaring the same key in one
// discovery batch. It is fatal to the whole batch.
type DuplicatePluginKeyError struct {
	Key    string
	First  string
	Second string
}

func (e *DuplicatePluginKeyError) Error() string {
	return fmt.Sprintf("duplicate plugin key %q from %q and %q", e.Key, e.Second, e.First)
}

// ContextCreationError reports a domain whose loading context could not be
// built. Its plugins are excluded; other domains still load.
type ContextCreationError struct {
	Domain string
	Err    error
}

func (e *ContextCreationError) Error() string {
	return fmt.Sprintf("cannot create loading context for domain %q: %v", e.Domain, e.Err)
}

func (e *ContextCreationError) Unwrap() error {
	return e.Err
}

// InstantiationError reports a plugin whose entry point could not be
// constructed. Only that plugin is excluded.
type InstantiationError struct {
	Plugin     string
	EntryPoint string
	Err        error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("fail to instantiate entry point %q of plugin %q: %v", e.EntryPoint, e.Plugin, e.Err)
}

func (e *InstantiationError) Unwrap() error {
	return e.Err
}

// CleanupError aggregates every failure collected during unload.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("unload finished with %d error(s): %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *CleanupError) Unwrap() []error {
	return e.Errs
}
