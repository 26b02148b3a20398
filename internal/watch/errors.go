package watch

import "errors"

var (
	// ErrAlreadyWatching is returned by Start on a monitor that is already watching.
	ErrAlreadyWatching = errors.New("watch: already watching")
	// ErrNotWatching is returned by Stop on a stopped monitor.
	ErrNotWatching = errors.New("watch: not watching")
)
