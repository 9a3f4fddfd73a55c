package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/constants"
	apperrors "github.com/nexusflow/backend/pkg/errors"
	"github.com/nexusflow/backend/pkg/utils"
)

// ParseTemplateYAML decodes one template document. Unknown keys are rejected.
func ParseTemplateYAML(data []byte) (*models.FlowTemplate, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var tpl models.FlowTemplate
	if err := dec.Decode(&tpl); err != nil {
		return nil, apperrors.NewValidationError("template", fmt.Sprintf("invalid template YAML: %v", err))
	}
	return &tpl, nil
}

// ImportTemplate validates a template and saves it, filling in an id and
// DRAFT status when absent.
func (sm *ServiceManager) ImportTemplate(ctx context.Context, tpl *models.FlowTemplate) error {
	if strings.TrimSpace(tpl.Name) == "" {
		return apperrors.NewValidationError("name", "template name is required")
	}
	if strings.TrimSpace(tpl.OrganizationID) == "" {
		return apperrors.NewValidationError("organization_id", "template organization is required")
	}
	switch tpl.Status {
	case "":
		tpl.Status = constants.TemplateStatusDraft
	case constants.TemplateStatusDraft, constants.TemplateStatusActive, constants.TemplateStatusArchived:
	default:
		return apperrors.NewValidationError("status", fmt.Sprintf("unknown template status %q", tpl.Status))
	}
	if err := validateDefinition(&tpl.Definition); err != nil {
		return err
	}
	if err := validateConditions(&tpl.Definition, sm.Conditions); err != nil {
		return err
	}
	for _, step := range tpl.Definition.Steps {
		if !sm.Registry.Has(step.Type) {
			log.Printf("⚠️ Template %s: step %s has unknown type %q and will be skipped at activation", tpl.Name, step.ID, step.Type)
		}
	}
	if tpl.ID == "" {
		tpl.ID = utils.GenerateID()
	}
	if err := sm.Store.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	log.Printf("✅ Template %s (%s) imported with %d step(s)", tpl.Name, tpl.ID, len(tpl.Definition.Steps))
	return nil
}
