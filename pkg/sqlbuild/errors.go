package sqlbuild

import "fmt"

// BuildError reports a plan that cannot be turned into SQL without changing
// its meaning. No statement is produced alongside it.
type BuildError struct {
	Field  string // plan element at fault: table, dims, metrics, filters, join
	Value  string
	Reason string
}

func (e *BuildError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("build sql: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("build sql: %s %q: %s", e.Field, e.Value, e.Reason)
}
