// Package swagger reads OpenAPI 3 and Swagger 2 documents into endpoint
// descriptors and reports what is missing for them to be usable by a bot.
package swagger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi2"
	"github.com/getkin/kin-openapi/openapi2conv"
	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// ErrEmptyDocument is returned when there is no document to parse.
var ErrEmptyDocument = errors.New("swagger: empty document")

// Recognised security scheme types.
const (
	AuthNone   = "none"
	AuthAPIKey = "apiKey"
	AuthHTTP   = "http"
	AuthOAuth2 = "oauth2"
)

// Document is a parsed API description.
type Document struct {
	doc *openapi3.T
}

type versionHeader struct {
	Swagger string `yaml:"swagger"`
	OpenAPI string `yaml:"openapi"`
}

// Parse accepts JSON or YAML, OpenAPI 3.x or Swagger 2.0.
func Parse(data []byte) (*Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte("{}")) {
		return nil, ErrEmptyDocument
	}

	var hdr versionHeader
	if err := yaml.Unmarshal(data, &hdr); err != nil {
		return nil, fmt.Errorf("swagger: decode: %w", err)
	}

	if strings.HasPrefix(hdr.Swagger, "2") {
		doc, err := parseV2(data)
		if err != nil {
			return nil, err
		}
		return &Document{doc: doc}, nil
	}

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("swagger: load: %w", err)
	}
	if doc.Paths == nil && doc.Info == nil {
		return nil, ErrEmptyDocument
	}
	return &Document{doc: doc}, nil
}

func parseV2(data []byte) (*openapi3.T, error) {
	// openapi2.T decodes from JSON only; YAML goes through a generic tree.
	if !json.Valid(data) {
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("swagger: decode: %w", err)
		}
		b, err := json.Marshal(stringKeys(tree))
		if err != nil {
			return nil, fmt.Errorf("swagger: decode: %w", err)
		}
		data = b
	}

	var doc2 openapi2.T
	if err := json.Unmarshal(data, &doc2); err != nil {
		return nil, fmt.Errorf("swagger: decode v2: %w", err)
	}
	doc, err := openapi2conv.ToV3(&doc2)
	if err != nil {
		return nil, fmt.Errorf("swagger: convert v2: %w", err)
	}
	return doc, nil
}

// stringKeys rewrites YAML maps with non-string keys (e.g. 200:) so the
// tree can be JSON encoded.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[fmt.Sprint(k)] = stringKeys(val)
		}
		return m
	case []any:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}

// OpenAPI returns the underlying document.
func (d *Document) OpenAPI() *openapi3.T { return d.doc }

func (d *Document) Version() string { return d.doc.OpenAPI }

func (d *Document) Title() string {
	if d.doc.Info == nil {
		return ""
	}
	return d.doc.Info.Title
}

func (d *Document) Description() string {
	if d.doc.Info == nil {
		return ""
	}
	return d.doc.Info.Description
}

// ServerURL returns the first declared server, or "".
func (d *Document) ServerURL() string {
	if len(d.doc.Servers) == 0 || d.doc.Servers[0] == nil {
		return ""
	}
	return strings.TrimRight(d.doc.Servers[0].URL, "/")
}

// methodOrder is the order operations of one path are emitted in.
var methodOrder = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS", "HEAD", "PATCH", "TRACE"}

// Endpoints lists every path and method pair. Paths are sorted; an
// operation missing its id, summary or description is still returned.
func (d *Document) Endpoints() []Endpoint {
	if d.doc.Paths == nil {
		return nil
	}
	paths := d.doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Endpoint
	for _, path := range keys {
		item := paths[path]
		if item == nil {
			continue
		}
		for _, method := range methodOrder {
			op := item.GetOperation(method)
			if op == nil {
				continue
			}
			out = append(out, newEndpoint(path, method, item, op))
		}
	}
	return out
}

// AuthType returns the type of the first recognised security scheme,
// examining schemes by name in lexical order.
func (d *Document) AuthType() (string, bool) {
	if d.doc.Components == nil {
		return "", false
	}
	schemes := d.doc.Components.SecuritySchemes
	names := make([]string, 0, len(schemes))
	for name := range schemes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ref := schemes[name]
		if ref == nil || ref.Value == nil {
			continue
		}
		switch ref.Value.Type {
		case AuthNone, AuthAPIKey, AuthHTTP, AuthOAuth2:
			return ref.Value.Type, true
		}
	}
	return "", false
}

// Validations runs Validate over all endpoints and adds the auth type.
func (d *Document) Validations() Report {
	r := Validate(d.Endpoints())
	if t, ok := d.AuthType(); ok {
		r.AuthType = &t
	}
	return r
}
