package planner

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

const planFilePermissions = 0600

// LoadFile reads and validates a plan from a YAML file, bypassing the
// planning model entirely.
func LoadFile(path string) (*StructuredPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}
	var plan StructuredPlan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}
	for i := range plan.Steps {
		if plan.Steps[i].Type == "" {
			plan.Steps[i].Type = StepDirect
		}
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("plan file %s: %w", path, err)
	}
	return &plan, nil
}

// SaveFile writes the plan as YAML so a later run can replay it.
func SaveFile(path string, plan *StructuredPlan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, planFilePermissions); err != nil {
		return fmt.Errorf("write plan file: %w", err)
	}
	return nil
}
