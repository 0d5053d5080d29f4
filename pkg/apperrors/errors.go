package apperrors

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// Fatal: the run aborts and the failing stage writes nothing to the cache.
	ErrSourceUnavailable = errors.New("log source unavailable")
	ErrMetadataLoad      = errors.New("project metadata load failed")

	// Recoverable: counted, skipped, or treated as a cache miss.
	ErrRecordParse     = errors.New("record parse failed")
	ErrCacheCorruption = errors.New("cache entry corrupted")
	ErrStageTimeout    = errors.New("stage timed out")
)

// IsFatal reports whether err must abort the whole pipeline run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrMetadataLoad)
}
