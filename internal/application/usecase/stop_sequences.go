package usecase

import "strings"

// stopSequences end forwarding as soon as any of them appears in the
// accumulated buffer: role markers, instruction brackets, separators, and
// common preamble words. This is the reduced default set; a given upstream
// may need the longer list.
var stopSequences = []string{
	"USER:",
	"Human:",
	"Assistant:",
	"\nUSER:",
	"\nHuman:",
	"\nAssistant:",
	"[INST]",
	"[/INST]",
	"<s>",
	"</s>",
	"---",
	"***",
	"\n\n\n",
	"Example:",
	"Note:",
	"Source:",
}

// upstreamStops is the subset also sent to the model endpoint so it can cut
// generation early; the orchestrator still enforces the full set locally.
var upstreamStops = []string{"\nUSER:", "\nHuman:", "\nAssistant:"}

// earliestStop returns the index of the first stop sequence in buf, or -1.
func earliestStop(buf string) int {
	best := -1
	for _, stop := range stopSequences {
		if idx := strings.Index(buf, stop); idx >= 0 && (best < 0 || idx < best) {
			best = idx
		}
	}
	return best
}
