package recordtype_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulkimport/bulkimport/internal/recordtype"
)

const registryYAML = `
record_types:
  rdm:
    serializers: [csv]
    community_required: true
    delete_note: "Spam"
    options:
      doi_minting: true
      publish: false
    custom_fields:
      - field: "imprint:imprint"
        transformer: imprint
        schema: |
          {"type": "object"}
`

func TestParse(t *testing.T) {
	cfg, err := recordtype.Parse([]byte(registryYAML))
	require.NoError(t, err)

	rdm, err := cfg.Lookup("rdm")
	require.NoError(t, err)
	assert.True(t, rdm.CommunityRequired)
	assert.Equal(t, recordtype.Options{DOIMinting: true, Publish: false}, rdm.Options)
	assert.True(t, rdm.SupportsSerializer("csv"))
	assert.False(t, rdm.SupportsSerializer("xml"))
	require.Len(t, rdm.CustomFields, 1)
	assert.Equal(t, "imprint", rdm.CustomFields[0].Transformer)
	assert.JSONEq(t, `{"type": "object"}`, rdm.CustomFields[0].Schema)

	_, err = cfg.Lookup("marc")
	assert.ErrorIs(t, err, recordtype.ErrUnknownRecordType)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty":          "record_types: {}",
		"no serializers": "record_types:\n  rdm:\n    options: {publish: true}\n",
		"bad field":      "record_types:\n  rdm:\n    serializers: [csv]\n    custom_fields:\n      - field: x\n",
		"not yaml":       "record_types: [",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := recordtype.Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record_types.yaml")
	require.NoError(t, os.WriteFile(path, []byte(registryYAML), 0o600))

	cfg, err := recordtype.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"rdm"}, cfg.Names())

	_, err = recordtype.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultConfig(t *testing.T) {
	cfg := recordtype.DefaultConfig()
	require.NoError(t, cfg.Validate())
	rdm, err := cfg.Lookup("rdm")
	require.NoError(t, err)
	assert.True(t, rdm.Options.Publish)
	assert.False(t, rdm.Options.DOIMinting)
}
