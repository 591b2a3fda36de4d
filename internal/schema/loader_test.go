package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSchemaYAML = `
kb_id: retail-demo
nodes:
  - label: Product
    key_property: sku
    props: [sku, name]
mappings:
  sources:
    - source_id: products
      connector_url: http://c/products
      document_type: json
      extract:
        node: Product
        key: "$.sku"
        assign:
          - property: name
            path: "$.name"
`

func TestLoadFile_ValidYAMLDecodes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "retail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validSchemaYAML), 0o644))

	s, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "retail-demo", s.KBID)
	require.Len(t, s.Nodes, 1)
	assert.Equal(t, "Product", s.Nodes[0].Label)
	assert.Equal(t, "sku", s.Nodes[0].KeyProperty)
}

func TestLoadFile_MissingFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_MalformedYAMLErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("kb_id: [unterminated"), 0o644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestLoadDir_RegistersEveryYAMLFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retail.yaml"), []byte(validSchemaYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644))

	r := NewRegistry()
	kbIDs, err := LoadDir(r, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"retail-demo"}, kbIDs)

	got, err := r.Get("retail-demo")
	require.NoError(t, err)
	assert.Equal(t, "retail-demo", got.KBID)
}

func TestLoadDir_InvalidSchemaErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("kb_id: \"\"\n"), 0o644))

	r := NewRegistry()
	_, err := LoadDir(r, dir)
	assert.Error(t, err)
}
