package ipc

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespaceTree(t *testing.T) {
	router := NewRouter(nil)
	for _, ch := range []string{"a:b", "a:c:d", "e"} {
		require.NoError(t, router.Register(ch, nil, constant(nil)))
	}

	tree := router.NamespaceTree()
	assert.Equal(t, Tree{
		"a": Tree{"b": true, "c": Tree{"d": true}},
		"e": true,
	}, tree)

	data, err := json.Marshal(tree)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"b":true,"c":{"d":true}},"e":true}`, string(data))
	assert.Equal(t, []string{"a:b", "a:c:d", "e"}, tree.Leaves())
}

func TestNamespaceTreeConflicts(t *testing.T) {
	var logs bytes.Buffer
	tree := BuildTree([]string{"query:patient", "query:patient:list", "auth:login:extra", "auth:login"}, testLogger(&logs))

	assert.Equal(t, Tree{
		"query": Tree{"patient": true},
		"auth":  Tree{"login": Tree{"extra": true}},
	}, tree)
	assert.Contains(t, logs.String(), "query:patient:list")
	assert.Contains(t, logs.String(), "channel=auth:login\n")
}

func TestWriteArtifact(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("file, not dir"), 0o644))

	dirs := []string{
		filepath.Join(root, "dev", "preload"),
		filepath.Join(blocked, "sub"),
		"",
		filepath.Join(root, "userdata"),
	}
	var logs bytes.Buffer
	written := WriteArtifact("ipc-channels.d.ts", []byte("export {}\n"), dirs, testLogger(&logs))

	assert.Equal(t, []string{
		filepath.Join(root, "dev", "preload", "ipc-channels.d.ts"),
		filepath.Join(root, "userdata", "ipc-channels.d.ts"),
	}, written)
	assert.Contains(t, logs.String(), "failed to write artifact")

	data, err := os.ReadFile(written[1])
	require.NoError(t, err)
	assert.Equal(t, "export {}\n", string(data))
}

func TestWriteTree(t *testing.T) {
	router := NewRouter(nil)
	require.NoError(t, router.Register("auth:login", nil, constant(nil)))
	dir := t.TempDir()

	written, err := router.WriteTree(dir)
	require.NoError(t, err)
	require.Len(t, written, 1)

	data, err := os.ReadFile(filepath.Join(dir, TreeFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth":{"login":true}}`, string(data))
}
