package apperrors

import "errors"

var (
	ErrNoResponse        = errors.New("no generation path produced usable SQL")
	ErrGenerationTimeout = errors.New("generation timed out")
	ErrExecution         = errors.New("query execution failed")
)
