package plugin

// State represents the lifecycle state of the Manager's load session.
type State int

// Session states.
const (
	// StateUnloaded - No module set is live.
	StateUnloaded State = iota

	// StateLoading - A load is in progress.
	StateLoading

	// StateLoaded - A module set is live.
	StateLoaded

	// StateUnloading - An unload is in progress.
	StateUnloading

	// StateError - The last cycle failed before producing a module set.
	StateError
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloading:
		return "unloading"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// IsBusy returns true while a load or unload is running.
func (s State) IsBusy() bool {
	return s == StateLoading || s == StateUnloading
}
