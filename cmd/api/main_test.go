package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/orchestrator/cmd/workflow/coordinator"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
)

const sampleBlueprintJSON = `{
	"nodes": [
		{
			"id": "fetch", "kind": "tool", "tool_name": "echo",
			"input_schema": {"x": "str"}, "output_schema": {"x": "str"},
			"input_mappings": {"x": "hello"}
		}
	]
}`

func newTestServer() (*echo.Echo, *server) {
	e := echo.New()
	srv := &server{
		patches:    coordinator.NewPatchLoader(),
		blueprints: make(map[string]*validator.Blueprint),
	}
	return e, srv
}

func TestCreateBlueprintStoresAndReturnsID(t *testing.T) {
	e, srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/blueprints", strings.NewReader(sampleBlueprintJSON))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, srv.createBlueprint(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), "blueprint_id")

	srv.mu.RLock()
	defer srv.mu.RUnlock()
	assert.Len(t, srv.blueprints, 1)
}

func TestCreateBlueprintRejectsInvalidJSON(t *testing.T) {
	e, srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/blueprints", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, srv.createBlueprint(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPatchBlueprintUnknownIDReturnsNotFound(t *testing.T) {
	e, srv := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/blueprints/missing/patches", strings.NewReader("[]"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("missing")

	require.NoError(t, srv.patchBlueprint(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPatchBlueprintAppliesOperation(t *testing.T) {
	e, srv := newTestServer()
	bp := &validator.Blueprint{Nodes: []validator.NodeSpec{
		{ID: "fetch", Kind: "tool", ToolName: "echo",
			InputSchema:  map[string]string{"x": "str"},
			OutputSchema: map[string]string{"x": "str"},
		},
	}}
	srv.blueprints["bp-1"] = bp

	patchDoc := `[
		{"op": "add", "path": "/nodes/-", "value": {
			"id": "shout", "kind": "tool", "tool_name": "upper",
			"dependencies": ["fetch"],
			"input_schema": {"s": "str"}, "output_schema": {"s": "str"},
			"input_mappings": {"s": {"source_node_id": "fetch", "source_output_path": "x"}}
		}}
	]`
	req := httptest.NewRequest(http.MethodPost, "/blueprints/bp-1/patches", strings.NewReader(patchDoc))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("bp-1")

	require.NoError(t, srv.patchBlueprint(c))
	assert.Equal(t, http.StatusCreated, rec.Code)

	srv.mu.RLock()
	defer srv.mu.RUnlock()
	assert.Len(t, srv.blueprints, 2)
}

func TestBlueprintAsMapPreservesNodeKinds(t *testing.T) {
	bp := &validator.Blueprint{Nodes: []validator.NodeSpec{
		{ID: "a", Kind: "agent"},
		{ID: "b", Kind: "tool"},
	}}
	m := blueprintAsMap(bp)
	nodes := m["nodes"].([]interface{})
	assert.Len(t, nodes, 2)
	assert.Equal(t, "agent", nodes[0].(map[string]interface{})["kind"])
}
