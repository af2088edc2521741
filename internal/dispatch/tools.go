// Package dispatch sends workflow tool invocations to the automation engine's
// webhooks, gated by a per-tool cooldown, and keeps the returned artifacts.
package dispatch

// Tool is one workflow step the engine can run.
type Tool struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	// Slot is the artifact key in the orchestrator's combined response.
	// Empty for the orchestrator itself.
	Slot string `json:"slot,omitempty"`
}

// Orchestrator runs every step and returns all artifacts at once.
const Orchestrator = "orchestrator"

var catalogue = []Tool{
	{ID: Orchestrator, Label: "Main Orchestrator", Description: "Run complete SDLC workflow"},
	{ID: "epics", Label: "Epics & User Stories", Description: "Generate epics and user stories", Slot: "epics_and_user_stories"},
	{ID: "arch_gen", Label: "Architecture Generation", Description: "Generate system architecture", Slot: "arch_gen"},
	{ID: "arch_val", Label: "Architecture Validation", Description: "Validate architecture design", Slot: "arch_val"},
	{ID: "code_gen", Label: "Code Generation", Description: "Generate application code", Slot: "code_gen"},
	{ID: "cicd", Label: "CI/CD Pipeline", Description: "Configure CI/CD pipeline", Slot: "cicd"},
	{ID: "test_cases", Label: "Test Cases", Description: "Generate test cases", Slot: "test_cases"},
	{ID: "test_data", Label: "Test Data", Description: "Generate test data", Slot: "test_data"},
}

// Tools returns the tool catalogue in display order.
func Tools() []Tool {
	return append([]Tool(nil), catalogue...)
}

// Lookup finds a tool by id.
func Lookup(id string) (Tool, bool) {
	for _, t := range catalogue {
		if t.ID == id {
			return t, true
		}
	}
	return Tool{}, false
}

// Label returns the tool's display label, or the id for unknown tools.
func Label(id string) string {
	if t, ok := Lookup(id); ok {
		return t.Label
	}
	return id
}
