package services

import (
	"context"

	"github.com/nexusflow/backend/internal/domain/models"
	"github.com/nexusflow/backend/pkg/ddr"
)

// TokenPreview is the result of resolving a value against a run
type TokenPreview struct {
	Resolved   interface{} `json:"resolved"`
	Unresolved []string    `json:"unresolved"`
}

// PreviewTokens resolves every token in value the way automation steps of
// the instance would see them. A nil instance resolves against empty data.
func (d *AutomationDispatcherService) PreviewTokens(ctx context.Context, instance *models.FlowInstance, value interface{}) *TokenPreview {
	resolved := ddr.ResolveDeep(value, d.buildContext(ctx, instance))
	return &TokenPreview{Resolved: resolved, Unresolved: leftoverTokens(resolved, nil)}
}

func leftoverTokens(value interface{}, acc []string) []string {
	switch v := value.(type) {
	case string:
		for _, tok := range ddr.ParseTokens(v) {
			acc = appendUnique(acc, tok.Raw)
		}
	case map[string]interface{}:
		for _, item := range v {
			acc = leftoverTokens(item, acc)
		}
	case []interface{}:
		for _, item := range v {
			acc = leftoverTokens(item, acc)
		}
	}
	if acc == nil {
		return []string{}
	}
	return acc
}
