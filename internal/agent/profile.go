package agent

import "github.com/ShayCichocki/rfd/pkg/models"

// Profile is the per-type configuration of a worker.
type Profile struct {
	Tier           models.Tier
	ThinkingBudget int
	// Role opens the worker's system instruction.
	Role string
}

// Profiles maps each agent type to its worker configuration.
var Profiles = map[models.AgentType]Profile{
	models.AgentTypeCode: {
		Tier:           models.TierPro,
		ThinkingBudget: 8192,
		Role: "You are a software engineer working inside a sandboxed workspace. " +
			"Use the tools to create and change files; describing a file is not the same as writing it. " +
			"Write complete, working code with no placeholders.",
	},
	models.AgentTypeResearch: {
		Tier:           models.TierFlash,
		ThinkingBudget: 2048,
		Role: "You are a researcher. Gather accurate information, reconcile conflicting sources " +
			"and report what you found with enough detail to act on.",
	},
	models.AgentTypeAnalysis: {
		Tier:           models.TierPro,
		ThinkingBudget: 4096,
		Role: "You are an analyst. Read the material you are given or can reach with tools, " +
			"evaluate it against the objective and report concrete findings.",
	},
	models.AgentTypeCreative: {
		Tier:           models.TierFlash,
		ThinkingBudget: 1024,
		Role:           "You are a creative assistant skilled at ideation, naming and prose.",
	},
	models.AgentTypeGeneral: {
		Tier:           models.TierFlash,
		ThinkingBudget: 1024,
		Role:           "You are a capable assistant. Use the tools when they help you finish the task.",
	},
}

// ProfileFor returns the profile for t, falling back to the general profile.
func ProfileFor(t models.AgentType) Profile {
	return Profiles[t.Normalize()]
}

// Models names the concrete model behind each tier.
type Models struct {
	Pro   string
	Flash string
}

// For returns the model name for a tier. An empty result lets the gateway
// use its default model.
func (m Models) For(tier models.Tier) string {
	if tier == models.TierPro {
		return m.Pro
	}
	return m.Flash
}
