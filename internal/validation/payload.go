// Package validation checks approval payload shapes against per-type JSON
// Schemas at creation time. Business-level checks are out of scope here; they
// belong to the action handlers.
package validation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/groupguard/quorum/internal/quorum"
)

// One schema per approval type. Shape-level only: required fields and types.
var rawSchemas = map[quorum.ApprovalType]string{
	quorum.TypeAddMember: `{
		"type": "object",
		"properties": {
			"member_id":    {"type": "string", "minLength": 1},
			"display_name": {"type": "string"}
		},
		"required": ["member_id"],
		"additionalProperties": true
	}`,
	quorum.TypePromoteToAdmin: `{
		"type": "object",
		"properties": {"member_id": {"type": "string", "minLength": 1}},
		"required": ["member_id"],
		"additionalProperties": true
	}`,
	quorum.TypeDemoteFromAdmin: `{
		"type": "object",
		"properties": {"member_id": {"type": "string", "minLength": 1}},
		"required": ["member_id"],
		"additionalProperties": true
	}`,
	quorum.TypeRemoveMember: `{
		"type": "object",
		"properties": {"member_id": {"type": "string", "minLength": 1}},
		"required": ["member_id"],
		"additionalProperties": true
	}`,
	quorum.TypeDeleteGroup: `{
		"type": "object",
		"properties": {"reason": {"type": "string"}},
		"additionalProperties": true
	}`,
	quorum.TypeDeleteFile: `{
		"type": "object",
		"properties": {"file_id": {"type": "string", "minLength": 1}},
		"required": ["file_id"],
		"additionalProperties": true
	}`,
	quorum.TypeDeleteLogExport: `{
		"type": "object",
		"properties": {"export_id": {"type": "string", "minLength": 1}},
		"required": ["export_id"],
		"additionalProperties": true
	}`,
}

// PayloadValidator validates approval payloads against compiled schemas.
type PayloadValidator struct {
	schemas map[quorum.ApprovalType]*gojsonschema.Schema
}

// NewPayloadValidator compiles all per-type schemas up front so a bad schema
// fails at startup, not on the first request.
func NewPayloadValidator() (*PayloadValidator, error) {
	v := &PayloadValidator{schemas: map[quorum.ApprovalType]*gojsonschema.Schema{}}
	for t, raw := range rawSchemas {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", t, err)
		}
		v.schemas[t] = s
	}
	return v, nil
}

// Validate implements quorum.PayloadValidator. An empty payload validates as
// an empty object.
func (v *PayloadValidator) Validate(t quorum.ApprovalType, payload []byte) error {
	s := v.schemas[t]
	if s == nil {
		return fmt.Errorf("%w: no schema for type %q", quorum.ErrInvalidPayload, t)
	}
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", quorum.ErrInvalidPayload, err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", quorum.ErrInvalidPayload, strings.Join(msgs, "; "))
}
