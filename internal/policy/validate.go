package policy

import "fmt"

var validActions = map[Action]bool{ActionAllow: true, ActionDeny: true}

var validTargets = map[Target]bool{
	TargetFilesystem: true,
	TargetCommand:    true,
	TargetURL:        true,
	TargetSkill:      true,
}

var validOperations = map[Operation]bool{
	OpFileRead:  true,
	OpFileWrite: true,
	OpFileList:  true,
}

// Validate checks a single policy: known action/target/operation enums,
// a present id, non-empty patterns, and operations restricted to the
// filesystem-relevant targets.
func Validate(p Policy) error {
	if p.ID == "" {
		return fmt.Errorf("policy: id is required")
	}
	if !validActions[p.Action] {
		return fmt.Errorf("policy %s: invalid action %q", p.ID, p.Action)
	}
	if !validTargets[p.Target] {
		return fmt.Errorf("policy %s: invalid target %q", p.ID, p.Target)
	}
	if len(p.Patterns) == 0 {
		return fmt.Errorf("policy %s: patterns must not be empty", p.ID)
	}
	if p.Target != TargetFilesystem && p.Target != TargetCommand && len(p.Operations) > 0 {
		return fmt.Errorf("policy %s: operations only valid for filesystem and command targets", p.ID)
	}
	for _, op := range p.Operations {
		if !validOperations[op] {
			return fmt.Errorf("policy %s: invalid operation %q", p.ID, op)
		}
	}
	return nil
}

// ValidateSet validates every policy in the set and checks id uniqueness.
func ValidateSet(s *Set) error {
	seen := make(map[string]bool, len(s.Policies))
	for _, p := range s.Policies {
		if err := Validate(p); err != nil {
			return err
		}
		if seen[p.ID] {
			return fmt.Errorf("policy set: duplicate id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
