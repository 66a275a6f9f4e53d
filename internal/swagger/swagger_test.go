package swagger

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const petstoreV3 = `{
  "openapi": "3.0.0",
  "info": {"title": "Petstore", "description": "Pets", "version": "1.0.0"},
  "servers": [{"url": "https://petstore.example.com/v1/"}],
  "components": {
    "securitySchemes": {
      "zeta": {"type": "oauth2", "flows": {}},
      "alpha": {"type": "apiKey", "name": "X-Key", "in": "header"}
    }
  },
  "paths": {
    "/pets": {
      "parameters": [{"name": "X-Trace", "in": "header", "schema": {"type": "string"}}],
      "get": {
        "operationId": "listPets",
        "summary": "List pets",
        "description": "Returns all pets",
        "parameters": [{"name": "limit", "in": "query", "required": false, "schema": {"type": "integer"}}],
        "responses": {"200": {"description": "ok"}}
      },
      "post": {
        "operationId": "createPet",
        "summary": "Create a pet",
        "requestBody": {
          "content": {"application/json": {"schema": {"type": "object", "properties": {"name": {"type": "string"}}}}}
        },
        "responses": {"201": {"description": "created"}}
      }
    },
    "/pets/{petId}": {
      "get": {
        "summary": "Info for a pet",
        "parameters": [{"name": "petId", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"200": {"description": "ok"}}
      },
      "delete": {
        "operationId": "deletePet",
        "description": "Removes a pet",
        "parameters": [{"name": "petId", "in": "path", "required": true, "schema": {"type": "string"}}],
        "responses": {"204": {"description": "gone"}}
      }
    },
    "/adopt": {
      "post": {
        "operationId": "adopt",
        "summary": "Adopt",
        "description": "Adopt a pet",
        "responses": {"200": {"description": "ok"}}
      }
    }
  }
}`

const petstoreV2YAML = `
swagger: "2.0"
info:
  title: Legacy
  version: "1"
host: legacy.example.com
basePath: /api
schemes: [https]
securityDefinitions:
  basicAuth:
    type: basic
paths:
  /items:
    get:
      operationId: listItems
      summary: List items
      description: All items
      responses:
        200:
          description: ok
    post:
      operationId: addItem
      summary: Add
      description: Add an item
      consumes: [application/json]
      parameters:
        - in: body
          name: body
          schema:
            type: object
      responses:
        200:
          description: ok
`

func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", "   ", "null", "{}"} {
		_, err := Parse([]byte(in))
		assert.True(t, errors.Is(err, ErrEmptyDocument), "input %q: %v", in, err)
	}
}

func TestParseGarbage(t *testing.T) {
	_, err := Parse([]byte("openapi: [unclosed"))
	require.Error(t, err)
}

func TestEndpointsOrderAndFields(t *testing.T) {
	doc, err := Parse([]byte(petstoreV3))
	require.NoError(t, err)

	assert.Equal(t, "Petstore", doc.Title())
	assert.Equal(t, "Pets", doc.Description())
	assert.Equal(t, "https://petstore.example.com/v1", doc.ServerURL())

	eps := doc.Endpoints()
	var got []string
	for _, e := range eps {
		got = append(got, e.Method+" "+e.Path)
	}
	assert.Equal(t, []string{
		"POST /adopt",
		"GET /pets",
		"POST /pets",
		"GET /pets/{petId}",
		"DELETE /pets/{petId}",
	}, got)

	list := eps[1]
	assert.Equal(t, "listPets", list.OperationID)
	assert.Equal(t, "List pets", list.Name)
	require.Len(t, list.Parameters, 2)
	assert.Equal(t, "X-Trace", list.Parameters[0].Name)
	assert.Equal(t, "header", list.Parameters[0].In)
	assert.Equal(t, "limit", list.Parameters[1].Name)
	assert.NotEmpty(t, list.Responses)

	create := eps[2]
	assert.True(t, create.HasBody())
	assert.JSONEq(t, `{"type":"object","properties":{"name":{"type":"string"}}}`, create.BodySchema())

	// Missing fields are produced, not rejected.
	info := eps[3]
	assert.Empty(t, info.OperationID)
	assert.Empty(t, info.Description)
}

func TestValidations(t *testing.T) {
	doc, err := Parse([]byte(petstoreV3))
	require.NoError(t, err)

	r := doc.Validations()
	ids := func(es []Endpoint) []string {
		out := []string{}
		for _, e := range es {
			out = append(out, e.Method+" "+e.Path)
		}
		return out
	}
	assert.Equal(t, []string{"GET /pets/{petId}"}, ids(r.WithoutOperationID))
	assert.Equal(t, []string{"DELETE /pets/{petId}"}, ids(r.WithoutName))
	assert.Equal(t, []string{"POST /pets", "GET /pets/{petId}"}, ids(r.WithoutDescription))
	assert.Equal(t, []string{"POST /adopt"}, ids(r.PostWithoutBody))
	require.NotNil(t, r.AuthType)
	assert.Equal(t, AuthAPIKey, *r.AuthType, "schemes are examined by name")
	assert.False(t, r.OK())
}

func TestValidateEmptyListsEncodeAsArrays(t *testing.T) {
	b, err := json.Marshal(Validate(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"endpoints_without_operation_id": [],
		"endpoints_without_description": [],
		"endpoints_without_name": [],
		"post_endpoints_without_request_body": [],
		"auth_type": null
	}`, string(b))
	assert.True(t, Validate(nil).OK())
}

func TestAuthTypeAbsent(t *testing.T) {
	doc, err := Parse([]byte(`{"openapi":"3.0.0","info":{"title":"x","version":"1"},"paths":{}}`))
	require.NoError(t, err)
	_, ok := doc.AuthType()
	assert.False(t, ok)
	assert.Nil(t, doc.Validations().AuthType)
	assert.Empty(t, doc.Endpoints())
}

func TestParseSwagger2YAML(t *testing.T) {
	doc, err := Parse([]byte(petstoreV2YAML))
	require.NoError(t, err)

	assert.Equal(t, "Legacy", doc.Title())
	assert.Equal(t, "https://legacy.example.com/api", doc.ServerURL())

	eps := doc.Endpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "listItems", eps[0].OperationID)
	assert.Equal(t, "addItem", eps[1].OperationID)
	assert.True(t, eps[1].HasBody(), "body parameter becomes a request body")

	auth, ok := doc.AuthType()
	require.True(t, ok)
	assert.Equal(t, AuthHTTP, auth)
}

func TestEndpointSummary(t *testing.T) {
	e := Endpoint{OperationID: "listPets", Method: "GET", Path: "/pets", Name: "List pets", Description: "All of them"}
	assert.Equal(t, "GET /pets (listPets): List pets\nAll of them", e.Summary())
	assert.Equal(t, "POST /x", Endpoint{Method: "POST", Path: "/x"}.Summary())
}

func TestEndpointJSONRoundTrip(t *testing.T) {
	doc, err := Parse([]byte(petstoreV3))
	require.NoError(t, err)
	e := doc.Endpoints()[1]

	b, err := json.Marshal(e)
	require.NoError(t, err)

	var back Endpoint
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, e.OperationID, back.OperationID)
	assert.Equal(t, e.Parameters[1].Name, back.Parameters[1].Name)
	assert.Equal(t, "GET", back.Method)
}
