package chunking

import "errors"

// ErrInvalidOptions is returned by New when the window configuration cannot
// make progress through a text.
var ErrInvalidOptions = errors.New("invalid chunker options")
