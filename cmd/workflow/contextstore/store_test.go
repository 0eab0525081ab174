package contextstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutGetOutput(t *testing.T) {
	s := New("run-1", nil)
	s.PutOutput("A", map[string]interface{}{"x": "v"}, true)
	out, success, present := s.GetOutput("A")
	require.True(t, present)
	assert.True(t, success)
	assert.Equal(t, "v", out["x"])
}

func TestGetOutputAbsent(t *testing.T) {
	s := New("run-1", nil)
	_, _, present := s.GetOutput("ghost")
	assert.False(t, present)
}

func TestResolvePathFailsOnUnsuccessfulNode(t *testing.T) {
	s := New("run-1", nil)
	s.PutOutput("A", nil, false)
	_, err := s.ResolvePath("A", "x")
	require.Error(t, err)
}

func TestResolvePathDotted(t *testing.T) {
	s := New("run-1", nil)
	s.PutOutput("A", map[string]interface{}{"nested": map[string]interface{}{"v": 42}}, true)
	v, err := s.ResolvePath("A", "nested.v")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestInitialContextExposed(t *testing.T) {
	s := New("run-1", map[string]interface{}{"seed": true})
	assert.Equal(t, map[string]interface{}{"seed": true}, s.InitialContext())
}
