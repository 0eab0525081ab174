package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathEmptyReturnsSelf(t *testing.T) {
	v, err := ResolvePath(map[string]interface{}{"a": 1}, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": 1}, v)
}

func TestResolvePathNested(t *testing.T) {
	doc := map[string]interface{}{
		"a": map[string]interface{}{
			"b": []interface{}{
				map[string]interface{}{"c": "found"},
			},
		},
	}
	v, err := ResolvePath(doc, "a.b.0.c")
	require.NoError(t, err)
	assert.Equal(t, "found", v)
}

func TestResolvePathMiss(t *testing.T) {
	_, err := ResolvePath(map[string]interface{}{"a": 1}, "b")
	require.Error(t, err)
	var miss *PathMissError
	assert.ErrorAs(t, err, &miss)
}

func TestResolvePathIndexOutOfRange(t *testing.T) {
	_, err := ResolvePath([]interface{}{1, 2}, "5")
	require.Error(t, err)
}

func TestResolveJSONPathNested(t *testing.T) {
	doc := map[string]interface{}{
		"address": map[string]interface{}{"city": "Austin"},
	}
	v, err := ResolveJSONPath(doc, "address.city")
	require.NoError(t, err)
	assert.Equal(t, "Austin", v)
}

func TestResolveJSONPathMiss(t *testing.T) {
	_, err := ResolveJSONPath(map[string]interface{}{"a": 1}, "b")
	require.Error(t, err)
	var miss *PathMissError
	assert.ErrorAs(t, err, &miss)
}
