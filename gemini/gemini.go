// Package gemini implements [keymap.Generator] directly against the Google
// Gemini API.
//
// It is the generator used when no backend session is available. The model
// is asked for the same JSON document the backend's generator returns, and
// conversation history is kept in memory, keyed by a locally assigned
// conversation id.
package gemini

const (
	defaultModel     = "gemini-2.5-flash"
	defaultMaxTokens = 8192
)

const systemPrompt = `You design relational database schemas from project descriptions.
Reply with a single JSON object and nothing else, shaped as:
{"project_title": string,
 "tables": [{"name": string, "description": string,
             "fields": [{"name": string, "type": string, "required": bool, "description": string}]}],
 "follow_up_question": string or null}
Use snake_case names and SQL column types. When the user gives feedback,
return the complete revised table list, not only the changes. Ask a
follow_up_question only when a design decision is genuinely open.`
