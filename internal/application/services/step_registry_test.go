package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexusflow/backend/pkg/constants"
)

func TestStepTypeRegistry(t *testing.T) {
	r := NewStepTypeRegistry()

	assert.True(t, r.IsAutoCompleting(constants.StepTypeWebhook))
	assert.True(t, r.IsAutoCompleting(constants.StepTypeAISummarize))
	assert.False(t, r.IsAutoCompleting(constants.StepTypeForm))
	assert.False(t, r.IsAutoCompleting("MYSTERY"))

	assert.True(t, r.IsBranch(constants.StepTypeSingleChoiceBranch))
	assert.False(t, r.IsBranch(constants.StepTypeDecision))

	assert.Equal(t, KindRestCall, r.KindOf(constants.StepTypeRestAPI))
	assert.Equal(t, KindToolCall, r.KindOf(constants.StepTypeMCPTool))
	assert.Equal(t, KindAIAssist, r.KindOf(constants.StepTypeAIReview))
	assert.Equal(t, KindUnrecognized, r.KindOf(constants.StepTypeApproval))
	assert.Equal(t, KindUnrecognized, r.KindOf("MYSTERY"))

	info, ok := r.Get(constants.StepTypeSubFlow)
	assert.True(t, ok)
	assert.Equal(t, CategorySubFlow, info.Category)
	assert.Len(t, r.Types(), 22)
}
