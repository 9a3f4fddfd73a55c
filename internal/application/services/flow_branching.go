package services

import (
	"fmt"
	"log"
	"strings"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/internal/domain/ports"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/expression"
)

// branchPathSeparator joins nested branch segments
const branchPathSeparator = "/"

// stampBranchPaths returns the branch path of every step that belongs to a
// branch. Segments are "<branchStepID>:<branchID>"; nested branches append.
func stampBranchPaths(def *models.TemplateDefinition) map[string]string {
	paths := make(map[string]string)
	for _, step := range def.Steps {
		if len(step.Branches) == 0 {
			continue
		}
		parent := paths[step.ID]
		for _, branch := range step.Branches {
			segment := step.ID + ":" + branch.ID
			if parent != "" {
				segment = parent + branchPathSeparator + segment
			}
			for _, id := range branch.StepIDs {
				paths[id] = segment
			}
		}
	}
	return paths
}

// validateDefinition checks the structural rules a runnable template must satisfy
func validateDefinition(def *models.TemplateDefinition) error {
	if len(def.Steps) == 0 {
		return apperrors.NewValidationError("definition.steps", "template has no steps")
	}
	seen := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.ID == "" {
			return apperrors.NewValidationError("definition.steps", "step id is required")
		}
		if seen[step.ID] {
			return apperrors.NewValidationError("definition.steps", fmt.Sprintf("duplicate step id %q", step.ID))
		}
		seen[step.ID] = true
	}
	for _, step := range def.Steps {
		defaults := 0
		for _, branch := range step.Branches {
			if branch.IsDefault {
				defaults++
			}
			for _, id := range branch.StepIDs {
				if !seen[id] {
					return apperrors.NewValidationError("definition.steps",
						fmt.Sprintf("branch %s of step %s references unknown step %q", branch.ID, step.ID, id))
				}
			}
		}
		if defaults > 1 {
			return apperrors.NewValidationError("definition.steps", fmt.Sprintf("step %s has more than one default branch", step.ID))
		}
		if step.Type == constants.StepTypeSubFlow && step.SubFlowTemplateID == "" {
			return apperrors.NewValidationError("definition.steps", fmt.Sprintf("sub-flow step %s has no template", step.ID))
		}
	}
	return nil
}

// validateConditions compiles every branch condition so syntax errors surface
// when a template is saved instead of when a run reaches the branch.
func validateConditions(def *models.TemplateDefinition, engine *expression.Engine) error {
	for _, step := range def.Steps {
		for _, branch := range step.Branches {
			if strings.TrimSpace(branch.Condition) == "" {
				continue
			}
			if err := engine.Validate(branch.Condition); err != nil {
				return apperrors.NewValidationError("definition.steps",
					fmt.Sprintf("branch %s of step %s has an invalid condition: %v", branch.ID, step.ID, err))
			}
		}
	}
	return nil
}

// resolveDecision picks the single branch named by the outcome in result data.
// The outcome may name a branch by id or label.
func resolveDecision(step *models.StepDefinition, result map[string]interface{}) (*models.BranchDefinition, error) {
	outcome, _ := result[constants.ResultKeyOutcome].(string)
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return nil, apperrors.NewValidationError(constants.ResultKeyOutcome, "decision requires an outcome")
	}
	var match *models.BranchDefinition
	for i := range step.Branches {
		b := &step.Branches[i]
		if b.ID == outcome || strings.EqualFold(b.Label, outcome) {
			if match != nil && match.ID != b.ID {
				return nil, apperrors.NewValidationError(constants.ResultKeyOutcome, fmt.Sprintf("outcome %q is ambiguous", outcome))
			}
			match = b
		}
	}
	if match == nil {
		return nil, apperrors.NewValidationError(constants.ResultKeyOutcome, fmt.Sprintf("outcome %q matches no branch", outcome))
	}
	return match, nil
}

// resolveConditionalBranches evaluates branch conditions. Single-choice takes
// the first true branch, multi-choice every true branch; the default branch is
// used when nothing matches. Evaluation errors count as false.
func resolveConditionalBranches(step *models.StepDefinition, env map[string]interface{}, evaluator ports.ConditionEvaluator) []models.BranchDefinition {
	multi := step.Type == constants.StepTypeMultiChoiceBranch
	var selected []models.BranchDefinition
	var fallback *models.BranchDefinition

	for i := range step.Branches {
		b := step.Branches[i]
		if b.IsDefault {
			fallback = &step.Branches[i]
			if b.Condition == "" {
				continue
			}
		}
		ok, err := evaluator.EvaluateCondition(b.Condition, env)
		if err != nil {
			log.Printf("⚠️ Branch %s of step %s: condition %q failed: %v", b.ID, step.ID, b.Condition, err)
			continue
		}
		if ok {
			selected = append(selected, b)
			if !multi {
				break
			}
		}
	}
	if len(selected) == 0 && fallback != nil {
		selected = append(selected, *fallback)
	}
	return selected
}

// stepsOutsideBranches returns the step ids owned by branches that were not
// selected, including everything nested under them.
func stepsOutsideBranches(def *models.TemplateDefinition, step *models.StepDefinition, selected []models.BranchDefinition) []string {
	keep := make(map[string]bool)
	for _, b := range selected {
		for _, id := range b.StepIDs {
			keep[id] = true
		}
	}

	var out []string
	seen := make(map[string]bool)
	var queue []string
	for _, b := range step.Branches {
		for _, id := range b.StepIDs {
			if !keep[id] {
				queue = append(queue, id)
			}
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		if nested := def.FindStep(id); nested != nil {
			for _, b := range nested.Branches {
				queue = append(queue, b.StepIDs...)
			}
		}
	}
	return out
}

func branchIDs(branches []models.BranchDefinition) []string {
	ids := make([]string, 0, len(branches))
	for _, b := range branches {
		ids = append(ids, b.ID)
	}
	return ids
}

// completionThreshold is how many of n participants must finish under a mode
func completionThreshold(mode string, n int) int {
	if n <= 0 {
		return 0
	}
	switch mode {
	case constants.CompletionModeAll:
		return n
	case constants.CompletionModeMajority:
		return n/2 + 1
	default:
		return 1
	}
}

// groupSatisfied reports whether a parallel group met its completion mode.
// Members skipped by an earlier branch decision do not take part.
func groupSatisfied(members []*models.StepExecution, mode string) bool {
	completed, participants := 0, 0
	for _, m := range members {
		if m.Status == constants.StepStatusSkipped {
			continue
		}
		participants++
		if m.Status == constants.StepStatusCompleted {
			completed++
		}
	}
	if participants == 0 {
		return true
	}
	return completed >= completionThreshold(mode, participants)
}
