package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	// No config file anywhere: built-in defaults apply.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "AES", cfg.DefaultCascade)
	assert.Equal(t, "Argon2id", cfg.DefaultKdf)
	assert.Equal(t, 0, cfg.Workers)
	assert.Equal(t, 0, cfg.ShimPort)
	assert.False(t, cfg.Verbose)
}
