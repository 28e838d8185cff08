package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, contents string) string {
	var path = filepath.Join(t.TempDir(), "classes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadClassManifest(t *testing.T) {
	var path = writeManifest(t, `
classes:
  - class_tag: CS
    authorized_shares: 100000
  - class_tag: PS
    authorized_shares: 25000
`)

	var configs, err = LoadClassManifest(path)
	require.NoError(t, err)
	assert.Len(t, configs, 2)
	assert.Equal(t, "CS", configs[0].Tag)
	assert.Equal(t, uint64(100000), configs[0].Authorized)
	assert.Equal(t, "PS", configs[1].Tag)
}

func TestLoadClassManifestRejectsDuplicateTag(t *testing.T) {
	var path = writeManifest(t, `
classes:
  - class_tag: CS
    authorized_shares: 1
  - class_tag: CS
    authorized_shares: 2
`)

	var _, err = LoadClassManifest(path)
	assert.Error(t, err)
}

func TestLoadClassManifestRejectsEmpty(t *testing.T) {
	var path = writeManifest(t, "classes: []\n")

	var _, err = LoadClassManifest(path)
	assert.Error(t, err)
}

func TestLoadClassManifestMissingFile(t *testing.T) {
	var _, err = LoadClassManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
