package assistant

import "lumen/internal/core"

// FallbackApology is spoken when the language model cannot be reached.
const FallbackApology = "Sorry, my brain is offline right now. Please check the language model server and try again."

var genericApologies = map[core.Kind]string{
	core.KindNotFound:           "Sorry, I couldn't find what you asked for.",
	core.KindExecutionFailed:    "Sorry, I wasn't able to do that.",
	core.KindTimeout:            "Sorry, that took too long, so I gave up.",
	core.KindServiceUnavailable: "Sorry, the service I need for that isn't available right now.",
	core.KindCancelled:          "Okay, stopped.",
}

// apology picks the user-facing text for a failure. Capability-specific
// overrides win over the generic table; the error detail is never included.
func apology(overrides map[core.Kind]string, kind core.Kind) string {
	if text, ok := overrides[kind]; ok && text != "" {
		return text
	}
	if text, ok := genericApologies[kind]; ok {
		return text
	}
	return genericApologies[core.KindExecutionFailed]
}
