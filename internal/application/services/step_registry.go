package services

import (
	"sort"

	"github.com/nexusflow/backend/pkg/constants"
)

// StepCategory groups step types by how they are driven
type StepCategory int

const (
	CategoryUnknown StepCategory = iota
	CategoryHuman
	CategoryBranch
	CategorySubFlow
	CategoryAutomation
)

// AutomationKind is the closed set of automation variants the dispatcher handles
type AutomationKind int

const (
	KindUnrecognized AutomationKind = iota
	KindWebhook
	KindEmail
	KindRestCall
	KindToolCall
	KindAIAssist
)

// String returns a readable name for logs
func (k AutomationKind) String() string {
	switch k {
	case KindWebhook:
		return "webhook"
	case KindEmail:
		return "email"
	case KindRestCall:
		return "rest"
	case KindToolCall:
		return "tool"
	case KindAIAssist:
		return "ai"
	default:
		return "unrecognized"
	}
}

// StepTypeInfo describes one registered step type
type StepTypeInfo struct {
	Type     string
	Category StepCategory
	Kind     AutomationKind
}

// AutoCompletes reports whether the step runs without human input once activated
func (i StepTypeInfo) AutoCompletes() bool {
	return i.Category == CategoryAutomation
}

// StepTypeRegistry is the fixed vocabulary of step types. It is built once
// and only read afterwards.
type StepTypeRegistry struct {
	types map[string]StepTypeInfo
}

// NewStepTypeRegistry creates the registry of every known step type
func NewStepTypeRegistry() *StepTypeRegistry {
	r := &StepTypeRegistry{types: make(map[string]StepTypeInfo)}

	for _, t := range []string{
		constants.StepTypeForm, constants.StepTypeQuestionnaire, constants.StepTypeFileRequest,
		constants.StepTypeTodo, constants.StepTypeApproval, constants.StepTypeAcknowledgment,
		constants.StepTypeESign, constants.StepTypeDecision, constants.StepTypeContent,
	} {
		r.add(t, CategoryHuman, KindUnrecognized)
	}
	r.add(constants.StepTypeSingleChoiceBranch, CategoryBranch, KindUnrecognized)
	r.add(constants.StepTypeMultiChoiceBranch, CategoryBranch, KindUnrecognized)
	r.add(constants.StepTypeSubFlow, CategorySubFlow, KindUnrecognized)

	r.add(constants.StepTypeWebhook, CategoryAutomation, KindWebhook)
	r.add(constants.StepTypeSendEmail, CategoryAutomation, KindEmail)
	r.add(constants.StepTypeRestAPI, CategoryAutomation, KindRestCall)
	r.add(constants.StepTypeMCPTool, CategoryAutomation, KindToolCall)
	for _, t := range []string{
		constants.StepTypeAIDraft, constants.StepTypeAIExtract, constants.StepTypeAISummarize,
		constants.StepTypeAITranslate, constants.StepTypeAIClassify, constants.StepTypeAIReview,
	} {
		r.add(t, CategoryAutomation, KindAIAssist)
	}
	return r
}

func (r *StepTypeRegistry) add(stepType string, category StepCategory, kind AutomationKind) {
	r.types[stepType] = StepTypeInfo{Type: stepType, Category: category, Kind: kind}
}

// Get returns the info for a step type. ok is false for unknown types.
func (r *StepTypeRegistry) Get(stepType string) (StepTypeInfo, bool) {
	info, ok := r.types[stepType]
	return info, ok
}

// Has checks if a step type is registered
func (r *StepTypeRegistry) Has(stepType string) bool {
	_, ok := r.types[stepType]
	return ok
}

// IsAutoCompleting reports whether a step type executes without human input
func (r *StepTypeRegistry) IsAutoCompleting(stepType string) bool {
	info, ok := r.types[stepType]
	return ok && info.AutoCompletes()
}

// IsBranch reports whether the step type is resolved by condition evaluation
func (r *StepTypeRegistry) IsBranch(stepType string) bool {
	info, ok := r.types[stepType]
	return ok && info.Category == CategoryBranch
}

// KindOf maps a step type to its automation variant
func (r *StepTypeRegistry) KindOf(stepType string) AutomationKind {
	info, ok := r.types[stepType]
	if !ok {
		return KindUnrecognized
	}
	return info.Kind
}

// Types returns all registered step types, sorted
func (r *StepTypeRegistry) Types() []string {
	types := make([]string, 0, len(r.types))
	for t := range r.types {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
