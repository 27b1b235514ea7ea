package runner

import (
	"github.com/3leaps/golivy/pkg/events"
	"github.com/3leaps/golivy/pkg/livy"
	"github.com/3leaps/golivy/pkg/operator"
)

// ErrorCode maps a task failure onto an events error code.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case operator.IsConfig(err):
		return events.ErrCodeConfig
	case livy.IsRemoteJobFailed(err):
		return events.ErrCodeRemoteJob
	case livy.IsUnknownState(err):
		return events.ErrCodeState
	case livy.IsTransport(err):
		return events.ErrCodeTransport
	case livy.IsProtocol(err):
		return events.ErrCodeProtocol
	default:
		return events.ErrCodeInternal
	}
}
