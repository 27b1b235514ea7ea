package taskregistry

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects records by task id or name glob and by state.
type Filter struct {
	// Match is a doublestar glob tested against the task name and task id,
	// e.g. "etl/**" or "nightly-*".
	Match string

	States []TaskState
}

func (f Filter) Validate() error {
	if f.Match != "" && !doublestar.ValidatePattern(f.Match) {
		return fmt.Errorf("invalid match pattern %q", f.Match)
	}
	return nil
}

// Apply returns the records accepted by f, keeping their order.
func (f Filter) Apply(records []TaskRecord) ([]TaskRecord, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]TaskRecord, 0, len(records))
	for _, r := range records {
		if f.accepts(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f Filter) accepts(r TaskRecord) bool {
	if len(f.States) > 0 {
		found := false
		for _, s := range f.States {
			if strings.EqualFold(string(s), string(r.State)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Match == "" {
		return true
	}
	for _, candidate := range []string{r.Name, r.TaskID} {
		if candidate == "" {
			continue
		}
		if ok, _ := doublestar.Match(f.Match, candidate); ok {
			return true
		}
	}
	return false
}
