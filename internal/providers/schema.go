package providers

// CleanSchemaForProvider strips JSON-schema keywords a given vendor's tool
// schema validator rejects. Anthropic and OpenAI both reject
// "additionalProperties" on nested objects in some model families, and
// Gemini (via the OpenAI-compatible endpoint) rejects "$schema"/"default".
func CleanSchemaForProvider(provider string, params map[string]interface{}) map[string]interface{} {
	if params == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return cleanSchemaValue(provider, params).(map[string]interface{})
}

func cleanSchemaValue(provider string, v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if k == "$schema" {
				continue
			}
			if provider == "gemini" && k == "default" {
				continue
			}
			out[k] = cleanSchemaValue(provider, child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, child := range val {
			out[i] = cleanSchemaValue(provider, child)
		}
		return out
	default:
		return v
	}
}

// CleanToolSchemas converts tool definitions into the OpenAI-compatible
// wire format, cleaning each tool's parameter schema for the named provider.
func CleanToolSchemas(provider string, tools []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        t.Function.Name,
				"description": t.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, t.Function.Parameters),
			},
		})
	}
	return out
}
