package specialist

import (
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tripplanner/agentcore/internal/jsonutil"
)

// extractJSONObject pulls the first balanced `{...}` block out of text,
// stripping a leading ```json fence if present. Every specialist's LLM
// path goes through this before falling back to its rule-based path.
func extractJSONObject(text string) (string, error) {
	return jsonutil.ExtractJSONObject(text)
}

// compileSchema compiles an inline JSON Schema document.
func compileSchema(name, schemaJSON string) (*jsonschema.Schema, error) {
	return jsonutil.CompileSchema(name, schemaJSON)
}

// mustCompileSchema compiles a package-level schema literal at init time;
// schemas are small and static, so agents compile once via package-level
// vars rather than per call.
func mustCompileSchema(name, schemaJSON string) *jsonschema.Schema {
	return jsonutil.MustCompileSchema(name, schemaJSON)
}

// decodeAndValidate unmarshals raw into dst and, if schema is non-nil,
// validates the decoded-as-interface{} form against it before the caller
// trusts the LLM's output over the rule-based fallback.
func decodeAndValidate(raw string, schema *jsonschema.Schema, dst interface{}) error {
	return jsonutil.DecodeAndValidate(raw, schema, dst)
}
