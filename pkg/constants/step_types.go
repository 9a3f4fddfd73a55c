package constants

// Human step types. These wait for an assignee to act.
const (
	StepTypeForm           = "FORM"
	StepTypeQuestionnaire  = "QUESTIONNAIRE"
	StepTypeFileRequest    = "FILE_REQUEST"
	StepTypeTodo           = "TODO"
	StepTypeApproval       = "APPROVAL"
	StepTypeAcknowledgment = "ACKNOWLEDGEMENT"
	StepTypeESign          = "E_SIGN"
	StepTypeDecision       = "DECISION"
	StepTypeContent        = "CONTENT"
)

// Branch step types. Evaluated by the advancement service on activation.
const (
	StepTypeSingleChoiceBranch = "SINGLE_CHOICE_BRANCH"
	StepTypeMultiChoiceBranch  = "MULTI_CHOICE_BRANCH"
)

// Sub-flow step type. Waits on a child instance.
const StepTypeSubFlow = "SUB_FLOW"

// Automation step types. These complete without human input.
const (
	StepTypeWebhook   = "WEBHOOK"
	StepTypeSendEmail = "SEND_EMAIL"
	StepTypeRestAPI   = "REST_API"
	StepTypeMCPTool   = "MCP_TOOL"

	StepTypeAIDraft     = "AI_DRAFT"
	StepTypeAIExtract   = "AI_EXTRACT"
	StepTypeAISummarize = "AI_SUMMARIZE"
	StepTypeAITranslate = "AI_TRANSLATE"
	StepTypeAIClassify  = "AI_CLASSIFY"
	StepTypeAIReview    = "AI_REVIEW"
)
