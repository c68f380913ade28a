package planner

import (
	"fmt"
)

// Section is one independently generated part of a diet plan.
type Section string

const (
	SectionProfile    Section = "profile"
	SectionMenu       Section = "menu"
	SectionPrinciples Section = "principles"
	SectionGuidance   Section = "guidance"
)

// Sections lists every section in generation order. Later sections receive
// the output of earlier ones as prompt context.
var Sections = []Section{SectionProfile, SectionMenu, SectionPrinciples, SectionGuidance}

// generationTemperature keeps the model close to deterministic so that the
// output parses as JSON.
const generationTemperature = 0.1

type sectionConfig struct {
	templateID string
	maxTokens  int
}

var sectionConfigs = map[Section]sectionConfig{
	SectionProfile:    {templateID: "plan_profile", maxTokens: 4096},
	SectionMenu:       {templateID: "plan_menu", maxTokens: 8192},
	SectionPrinciples: {templateID: "plan_principles", maxTokens: 4096},
	SectionGuidance:   {templateID: "plan_guidance", maxTokens: 4096},
}

// ParseSection validates a section name.
func ParseSection(s string) (Section, error) {
	sec := Section(s)
	if _, ok := sectionConfigs[sec]; !ok {
		return "", fmt.Errorf("unknown plan section %q", s)
	}
	return sec, nil
}

// TemplateID returns the prompt template used to generate the section.
func (s Section) TemplateID() string {
	return sectionConfigs[s].templateID
}

// AgentName is the name under which model calls for the section are
// recorded in metrics.
func (s Section) AgentName() string {
	return "plan_" + string(s)
}
