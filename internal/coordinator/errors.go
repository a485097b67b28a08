package coordinator

import "errors"

var (
	// ErrValidation reports bad caller input: empty text, empty target
	// languages, a malformed language code, or an unknown engine name.
	ErrValidation = errors.New("validation failed")
	// ErrConfiguration reports missing or invalid configuration for the
	// active engine or storage. Fatal at Initialize.
	ErrConfiguration = errors.New("configuration invalid")
	// ErrNotInitialized reports use of a coordinator before Initialize.
	ErrNotInitialized = errors.New("coordinator not initialized")
)
