// Package json implements the wire format shared by the collaborator
// clients and the file-backed client state store.
package json

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fwojciec/keymap"
)

// fieldDTO is the JSON representation of a Field. Required defaults to
// true when absent.
type fieldDTO struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Required    *bool   `json:"required,omitempty"`
	Description *string `json:"description"`
}

// schemaDTO is the JSON representation of a Schema. Generated tables carry
// no id, type or timestamp.
type schemaDTO struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description *string    `json:"description"`
	SchemaType  string     `json:"schema_type,omitempty"`
	Fields      []fieldDTO `json:"fields"`
	CreatedAt   timestamp  `json:"created_at,omitzero"`
}

type projectDTO struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description *string     `json:"description"`
	CreatedAt   timestamp   `json:"created_at"`
	URL         string      `json:"url"`
	Schemas     []schemaDTO `json:"schemas,omitempty"`
}

type updateDTO struct {
	Schemas []schemaUpdateDTO `json:"schemas"`
}

// schemaUpdateDTO mirrors schemaDTO but the collaborator requires a
// non-null description and never accepts created_at.
type schemaUpdateDTO struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	SchemaType  string     `json:"schema_type"`
	Fields      []fieldDTO `json:"fields"`
}

type generateRequestDTO struct {
	ProjectDescription string  `json:"project_description"`
	APIKey             string  `json:"api_key"`
	ConversationID     *string `json:"conversation_id"`
	UserFeedback       *string `json:"user_feedback"`
}

type generateResponseDTO struct {
	ProjectTitle     string      `json:"project_title"`
	Tables           []schemaDTO `json:"tables"`
	FollowUpQuestion *string     `json:"follow_up_question"`
	ConversationID   *string     `json:"conversation_id"`
}

// feedEntryDTO is one element of a push payload. An entry either nests its
// tables or is itself a table.
type feedEntryDTO struct {
	schemaDTO
	Tables *[]schemaDTO `json:"tables"`
}

// timestamp accepts RFC 3339 as well as the offset-less ISO 8601 form the
// collaborator emits.
type timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func (t timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

func (t timestamp) IsZero() bool { return t.Time.IsZero() }

func optional(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func fieldFromDTO(dto fieldDTO) keymap.Field {
	required := true
	if dto.Required != nil {
		required = *dto.Required
	}
	return keymap.Field{
		Name:        dto.Name,
		Type:        dto.Type,
		Required:    required,
		Description: optional(dto.Description),
	}
}

func fieldToDTO(f keymap.Field) fieldDTO {
	required := f.Required
	return fieldDTO{
		Name:        f.Name,
		Type:        f.Type,
		Required:    &required,
		Description: nullable(f.Description),
	}
}

func schemaFromDTO(dto schemaDTO) keymap.Schema {
	fields := make([]keymap.Field, len(dto.Fields))
	for i, f := range dto.Fields {
		fields[i] = fieldFromDTO(f)
	}
	return keymap.Schema{
		ID:          dto.ID,
		Name:        dto.Name,
		Description: optional(dto.Description),
		Type:        dto.SchemaType,
		Fields:      fields,
		CreatedAt:   dto.CreatedAt.Time,
	}
}

func schemaToDTO(s keymap.Schema) schemaDTO {
	fields := make([]fieldDTO, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fieldToDTO(f)
	}
	return schemaDTO{
		ID:          s.ID,
		Name:        s.Name,
		Description: nullable(s.Description),
		SchemaType:  s.Type,
		Fields:      fields,
		CreatedAt:   timestamp{s.CreatedAt},
	}
}

func schemasFromDTOs(dtos []schemaDTO) []keymap.Schema {
	out := make([]keymap.Schema, len(dtos))
	for i, dto := range dtos {
		out[i] = schemaFromDTO(dto)
	}
	return out
}

func projectFromDTO(dto projectDTO) keymap.Project {
	p := keymap.Project{
		ID:          dto.ID,
		Name:        dto.Name,
		Description: optional(dto.Description),
		URL:         dto.URL,
		CreatedAt:   dto.CreatedAt.Time,
	}
	if dto.Schemas != nil {
		p.Schemas = schemasFromDTOs(dto.Schemas)
	}
	return p
}

// MarshalSchemas encodes tables as a JSON array.
func MarshalSchemas(schemas []keymap.Schema) ([]byte, error) {
	dtos := make([]schemaDTO, len(schemas))
	for i, s := range schemas {
		dtos[i] = schemaToDTO(s)
	}
	return json.Marshal(dtos)
}

// UnmarshalSchemas decodes a JSON array of tables.
func UnmarshalSchemas(data []byte) ([]keymap.Schema, error) {
	var dtos []schemaDTO
	if err := json.Unmarshal(data, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal schemas: %w: %w", keymap.ErrMalformedResponse, err)
	}
	return schemasFromDTOs(dtos), nil
}

// MarshalUpdate encodes the body of an update-project-schemas request.
// The full list is always sent.
func MarshalUpdate(schemas []keymap.Schema) ([]byte, error) {
	body := updateDTO{Schemas: make([]schemaUpdateDTO, len(schemas))}
	for i, s := range schemas {
		dto := schemaToDTO(s)
		body.Schemas[i] = schemaUpdateDTO{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			SchemaType:  s.Type,
			Fields:      dto.Fields,
		}
	}
	return json.Marshal(body)
}

// UnmarshalProject decodes a single project with its schemas.
func UnmarshalProject(data []byte) (keymap.Project, error) {
	var dto projectDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return keymap.Project{}, fmt.Errorf("unmarshal project: %w: %w", keymap.ErrMalformedResponse, err)
	}
	return projectFromDTO(dto), nil
}

// UnmarshalProjects decodes a project listing. The collaborator answers an
// empty listing with {"message": "..."} instead of an array.
func UnmarshalProjects(data []byte) ([]keymap.Project, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var msg struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(trimmed, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal projects: %w: %w", keymap.ErrMalformedResponse, err)
		}
		return nil, nil
	}
	var dtos []projectDTO
	if err := json.Unmarshal(trimmed, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal projects: %w: %w", keymap.ErrMalformedResponse, err)
	}
	projects := make([]keymap.Project, len(dtos))
	for i, dto := range dtos {
		projects[i] = projectFromDTO(dto)
	}
	return projects, nil
}

// MarshalGenerateRequest encodes one conversation turn.
func MarshalGenerateRequest(req keymap.GenerateRequest) ([]byte, error) {
	return json.Marshal(generateRequestDTO{
		ProjectDescription: req.Description,
		APIKey:             req.APIKey,
		ConversationID:     nullable(req.ConversationID),
		UserFeedback:       nullable(req.Feedback),
	})
}

// UnmarshalGenerateResponse decodes the collaborator's answer to a turn.
// A response without a tables array is malformed.
func UnmarshalGenerateResponse(data []byte) (keymap.GenerateResponse, error) {
	var dto generateResponseDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return keymap.GenerateResponse{}, fmt.Errorf("unmarshal generate response: %w: %w", keymap.ErrMalformedResponse, err)
	}
	if dto.Tables == nil {
		return keymap.GenerateResponse{}, fmt.Errorf("generate response has no tables: %w", keymap.ErrMalformedResponse)
	}
	return keymap.GenerateResponse{
		ProjectTitle:     dto.ProjectTitle,
		FollowUpQuestion: strings.TrimSpace(optional(dto.FollowUpQuestion)),
		Tables:           schemasFromDTOs(dto.Tables),
		ConversationID:   optional(dto.ConversationID),
	}, nil
}

// MarshalGenerateResponse encodes a turn's answer in the collaborator's format.
func MarshalGenerateResponse(resp keymap.GenerateResponse) ([]byte, error) {
	dto := generateResponseDTO{
		ProjectTitle:     resp.ProjectTitle,
		Tables:           make([]schemaDTO, len(resp.Tables)),
		FollowUpQuestion: nullable(resp.FollowUpQuestion),
		ConversationID:   nullable(resp.ConversationID),
	}
	for i, s := range resp.Tables {
		dto.Tables[i] = schemaToDTO(s)
	}
	return json.Marshal(dto)
}

// UnmarshalFeedPayload decodes one push message and flattens the tables of
// every entry into a single list, preserving order.
func UnmarshalFeedPayload(data []byte) ([]keymap.Schema, error) {
	var entries []feedEntryDTO
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal feed payload: %w: %w", keymap.ErrMalformedResponse, err)
	}
	out := []keymap.Schema{}
	for _, e := range entries {
		if e.Tables != nil {
			out = append(out, schemasFromDTOs(*e.Tables)...)
			continue
		}
		out = append(out, schemaFromDTO(e.schemaDTO))
	}
	return out, nil
}

// MarshalFeedPayload encodes tables as a single-entry push payload.
func MarshalFeedPayload(schemas []keymap.Schema) ([]byte, error) {
	dtos := make([]schemaDTO, len(schemas))
	for i, s := range schemas {
		dtos[i] = schemaToDTO(s)
	}
	return json.Marshal([]feedEntryDTO{{Tables: &dtos}})
}
