package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMustLoadConfig(t *testing.T) {
	t.Setenv("APP_PORT", "9090")

	cfg := mustLoadConfig(filepath.Join(t.TempDir(), "missing.env"))
	require.NotNil(t, cfg)
	assert.Equal(t, 9090, cfg.Port)
}
