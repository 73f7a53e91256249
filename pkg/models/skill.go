package models

// SkillMetadata is the cheap, always-loaded description of a skill.
type SkillMetadata struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Triggers    []string `json:"triggers" yaml:"triggers"`
	// Path is the skill directory on disk.
	Path string `json:"path" yaml:"-"`
}

// Skill is a fully loaded skill bundle.
type Skill struct {
	SkillMetadata

	// Variables are named values substituted into the instructions as {{name}}.
	Variables map[string]string `json:"variables,omitempty"`
	// Workflow holds the ordered steps from the Workflow section.
	Workflow []string `json:"workflow,omitempty"`
	// Instructions is the document body used as the system instruction.
	Instructions string `json:"instructions"`
	// AllowedTools restricts the tool set; empty means every tool.
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// Cookbook, Tools and Prompts map file names to contents of the
	// matching subdirectories.
	Cookbook map[string]string `json:"cookbook,omitempty"`
	Tools    map[string]string `json:"tools,omitempty"`
	Prompts  map[string]string `json:"prompts,omitempty"`
}
