package swagger

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Endpoint describes one operation of a document.
type Endpoint struct {
	OperationID string          `json:"operation_id,omitempty"`
	Method      string          `json:"type"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	Parameters  []Parameter     `json:"request_parameters,omitempty"`
	Responses   json.RawMessage `json:"response,omitempty"`
	Path        string          `json:"path"`
}

// Parameter is the subset of a parameter definition needed to build a
// request and to prompt for its value.
type Parameter struct {
	Name        string          `json:"name"`
	In          string          `json:"in"`
	Required    bool            `json:"required,omitempty"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

func newEndpoint(path, method string, item *openapi3.PathItem, op *openapi3.Operation) Endpoint {
	e := Endpoint{
		OperationID: op.OperationID,
		Method:      method,
		Name:        op.Summary,
		Description: op.Description,
		Path:        path,
	}
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		e.RequestBody = marshalOrNil(op.RequestBody.Value)
	}
	if op.Responses != nil && op.Responses.Len() > 0 {
		e.Responses = marshalOrNil(op.Responses)
	}
	e.Parameters = mergeParameters(item.Parameters, op.Parameters)
	return e
}

// mergeParameters applies operation parameters over path-level ones,
// matching on name and location.
func mergeParameters(pathLevel, opLevel openapi3.Parameters) []Parameter {
	var out []Parameter
	index := map[string]int{}
	add := func(refs openapi3.Parameters) {
		for _, ref := range refs {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := ref.Value
			param := Parameter{
				Name:        p.Name,
				In:          p.In,
				Required:    p.Required,
				Description: p.Description,
			}
			if p.Schema != nil && p.Schema.Value != nil {
				param.Schema = marshalOrNil(p.Schema.Value)
			}
			key := p.In + ":" + p.Name
			if i, ok := index[key]; ok {
				out[i] = param
				continue
			}
			index[key] = len(out)
			out = append(out, param)
		}
	}
	add(pathLevel)
	add(opLevel)
	return out
}

func marshalOrNil(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// Summary is the text embedded for similarity search.
func (e Endpoint) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Method, e.Path)
	if e.OperationID != "" {
		fmt.Fprintf(&b, " (%s)", e.OperationID)
	}
	if e.Name != "" {
		b.WriteString(": ")
		b.WriteString(e.Name)
	}
	if e.Description != "" {
		b.WriteString("\n")
		b.WriteString(e.Description)
	}
	return b.String()
}

// ParamsSchema returns the parameter list as JSON, for prompting.
func (e Endpoint) ParamsSchema() string {
	if len(e.Parameters) == 0 {
		return "[]"
	}
	b, err := json.Marshal(e.Parameters)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// BodySchema returns the request body JSON schema, if any.
func (e Endpoint) BodySchema() string {
	if len(e.RequestBody) == 0 {
		return ""
	}
	var body struct {
		Content map[string]struct {
			Schema json.RawMessage `json:"schema"`
		} `json:"content"`
	}
	if err := json.Unmarshal(e.RequestBody, &body); err == nil {
		if c, ok := body.Content["application/json"]; ok && len(c.Schema) > 0 {
			return string(c.Schema)
		}
	}
	return string(e.RequestBody)
}

// HasBody reports whether the operation takes a request body.
func (e Endpoint) HasBody() bool { return len(e.RequestBody) > 0 }
