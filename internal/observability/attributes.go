package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrOutcome = "outcome"
	attrState   = "state"
	attrResult  = "result"
	attrError   = "error_class"
)

func outcomeAttr(err error) attribute.KeyValue {
	if err != nil {
		return attribute.String(attrOutcome, "error")
	}
	return attribute.String(attrOutcome, "ok")
}

// stateAttr groups anything outside the known Livy labels so a misbehaving
// server cannot blow up cardinality.
func stateAttr(state string) attribute.KeyValue {
	switch state {
	case "not_started", "starting", "recovering", "idle", "running", "busy",
		"shutting_down", "error", "dead", "success":
		return attribute.String(attrState, state)
	case "":
		return attribute.String(attrState, "none")
	default:
		return attribute.String(attrState, "unrecognized")
	}
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func errorClassAttr(class string) attribute.KeyValue {
	return attribute.String(attrError, class)
}
