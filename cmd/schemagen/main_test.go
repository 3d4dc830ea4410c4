package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/snake-relay/internal/protocol"
)

func TestBuildSchema(t *testing.T) {
	schema, err := buildSchema()
	require.NoError(t, err)
	require.Len(t, schema.OneOf, len(protocol.TextDocuments()))

	titles := make(map[string]bool)
	for _, s := range schema.OneOf {
		titles[s.Title] = true
		tag, ok := s.Properties.Get("t")
		require.True(t, ok)
		assert.Equal(t, s.Title, tag.Const)
	}
	for _, name := range []string{"GameInfo", "WorldUpdate", "Tick", "Log", "BotStats"} {
		assert.True(t, titles[name], "missing %s", name)
	}
}

func TestWriteSchema(t *testing.T) {
	schema, err := buildSchema()
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "schema", "viewer.json")
	require.NoError(t, writeSchema(out, schema))

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "Snake relay viewer protocol", doc["title"])
	assert.Len(t, doc["oneOf"], len(protocol.TextDocuments()))

	_, err = os.Stat(out + ".tmp")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
