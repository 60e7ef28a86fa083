package keymap

// ConversationState is the client's view of a schema-generation dialogue.
// Started becomes true once the collaborator has assigned ID; from then on
// ID never changes and every turn is feedback on the current proposal.
type ConversationState struct {
	Started          bool
	ID               string
	Description      string
	ProjectTitle     string
	Tables           []Schema
	FollowUpQuestion string
	Turns            int
}

// GenerateRequest is one turn sent to the generation collaborator.
// ConversationID and Feedback are empty on the first turn.
type GenerateRequest struct {
	Description    string
	APIKey         string
	ConversationID string
	Feedback       string
}

// FirstTurn reports whether the request opens a new conversation.
func (r GenerateRequest) FirstTurn() bool { return r.ConversationID == "" }

// GenerateResponse is the collaborator's answer to one turn.
type GenerateResponse struct {
	ProjectTitle     string
	FollowUpQuestion string
	Tables           []Schema
	ConversationID   string
}
