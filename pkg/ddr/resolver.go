package ddr

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ResolveSingleToken looks up one token. The boolean is false when no
// value is available.
func ResolveSingleToken(source, field string, ctx *Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	source = strings.TrimSpace(source)
	field = strings.TrimSpace(field)

	switch {
	case source == SourceKickoff:
		return lookup(ctx.Kickoff, field)
	case strings.HasPrefix(source, SourceRolePrefix):
		return resolveRole(strings.TrimSpace(strings.TrimPrefix(source, SourceRolePrefix)), field, ctx)
	case source == SourceWorkspace:
		return resolveWorkspace(field, ctx)
	default:
		data, ok := ctx.Steps[source]
		if !ok {
			return "", false
		}
		return lookup(data, field)
	}
}

func resolveRole(role, field string, ctx *Context) (string, bool) {
	assignment, ok := ctx.Roles[role]
	if !ok {
		// Role names are authored by hand; tolerate case drift
		found := false
		for name, a := range ctx.Roles {
			if strings.EqualFold(name, role) {
				assignment, found = a, true
				break
			}
		}
		if !found {
			return "", false
		}
	}

	var value string
	switch strings.ToLower(field) {
	case "name":
		value = assignment.Name
	case "email":
		value = assignment.Email
	case "contactid", "contact id":
		value = assignment.ContactID
	default:
		return "", false
	}
	return value, value != ""
}

func resolveWorkspace(field string, ctx *Context) (string, bool) {
	var value string
	switch strings.ToLower(field) {
	case "name":
		value = ctx.Workspace.Name
	case "id":
		value = ctx.Workspace.ID
	default:
		return "", false
	}
	return value, value != ""
}

func lookup(data map[string]interface{}, key string) (string, bool) {
	if data == nil {
		return "", false
	}
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	return Stringify(v), true
}

// Resolve substitutes every resolvable token in text. Unresolved tokens
// are left verbatim.
func Resolve(text string, ctx *Context) string {
	if !strings.Contains(text, "{") {
		return text
	}
	return bracePattern.ReplaceAllStringFunc(text, func(raw string) string {
		tok, ok := parseToken(raw)
		if !ok {
			return raw
		}
		value, ok := ResolveSingleToken(tok.Source, tok.Field, ctx)
		if !ok {
			return raw
		}
		return value
	})
}

// ResolveDeep walks maps and slices and resolves every string leaf.
// The input is never modified.
func ResolveDeep(value interface{}, ctx *Context) interface{} {
	switch v := value.(type) {
	case string:
		return Resolve(v, ctx)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = ResolveDeep(item, ctx)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = ResolveDeep(item, ctx)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// Stringify renders a result value for substitution
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	case map[string]interface{}, []interface{}, []string, map[string]string:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", val)
	}
}
