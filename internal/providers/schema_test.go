package providers

import "testing"

func TestCleanSchemaForProviderStripsSchemaKeyword(t *testing.T) {
	params := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
		},
	}
	cleaned := CleanSchemaForProvider("anthropic", params)
	if _, ok := cleaned["$schema"]; ok {
		t.Fatal("expected $schema to be stripped")
	}
	if cleaned["type"] != "object" {
		t.Fatalf("expected type to survive cleaning, got %v", cleaned["type"])
	}
}

func TestCleanSchemaForProviderStripsGeminiDefault(t *testing.T) {
	params := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"limit": map[string]interface{}{"type": "integer", "default": 10},
		},
	}
	cleaned := CleanSchemaForProvider("gemini", params)
	props := cleaned["properties"].(map[string]interface{})
	limit := props["limit"].(map[string]interface{})
	if _, ok := limit["default"]; ok {
		t.Fatal("expected default to be stripped for gemini")
	}
}

func TestCleanSchemaForProviderNilParams(t *testing.T) {
	cleaned := CleanSchemaForProvider("openai", nil)
	if cleaned["type"] != "object" {
		t.Fatalf("expected a fallback object schema, got %v", cleaned)
	}
}

func TestParseRetryAfterSeconds(t *testing.T) {
	d := ParseRetryAfter("5")
	if d.Seconds() != 5 {
		t.Fatalf("expected 5s, got %v", d)
	}
}

func TestParseRetryAfterEmpty(t *testing.T) {
	if d := ParseRetryAfter(""); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestClassifyStatusMapsRateLimit(t *testing.T) {
	pe := classifyStatus("openai", 429, "", 0)
	if pe.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %v", pe.Code)
	}
	if !pe.Retriable {
		t.Fatal("expected rate_limited to be retriable")
	}
}

func TestClassifyStatusMapsAuthFailure(t *testing.T) {
	pe := classifyStatus("anthropic", 401, "", 0)
	if pe.Code != "auth_failed" {
		t.Fatalf("expected auth_failed, got %v", pe.Code)
	}
	if pe.Retriable {
		t.Fatal("expected auth_failed to be non-retriable")
	}
}
