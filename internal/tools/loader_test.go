package tools

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gripperYAML = `name: gripper
description: two finger gripper
tcp:
  position: [0, 0, 0.15]
  rotation: [0, 0, 0]
payload: 1
center_of_gravity: [0, 0, 0.05]
`

func writeProfile(t *testing.T, dir, file, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
}

func TestLoadProfile(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "gripper.yaml", gripperYAML)

	l, err := NewProfileLoader([]string{filepath.Join(dir, "missing"), dir})
	require.NoError(t, err)

	p, err := l.Load("gripper")
	require.NoError(t, err)
	assert.Equal(t, "gripper", p.Name)
	assert.Equal(t, "two finger gripper", p.Description)
	assert.Equal(t, [3]float64{0, 0, 0.15}, p.TCP.Position)
	assert.Equal(t, 1.0, p.Payload)
	require.NotNil(t, p.CenterOfGravity)
	assert.Equal(t, [3]float64{0, 0, 0.05}, *p.CenterOfGravity)
	assert.Equal(t, filepath.Join(dir, "gripper.yaml"), p.Source)

	// Served from cache even after the file is gone
	require.NoError(t, os.Remove(filepath.Join(dir, "gripper.yaml")))
	cached, err := l.Load("gripper")
	require.NoError(t, err)
	assert.Same(t, p, cached)

	l.ClearCache()
	_, err = l.Load("gripper")
	assert.ErrorContains(t, err, "tool profile not found")
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "heavy.yml", "name: heavy\ntcp: {position: [0,0,0], rotation: [0,0,0]}\npayload: 80\n")
	writeProfile(t, dir, "short.yaml", "name: short\ntcp: {position: [0,0], rotation: [0,0,0]}\npayload: 1\n")
	writeProfile(t, dir, "extra.yaml", "name: extra\ntcp: {position: [0,0,0], rotation: [0,0,0]}\npayload: 1\ncolor: red\n")
	writeProfile(t, dir, "renamed.yaml", gripperYAML)
	writeProfile(t, dir, "broken.yaml", "name: [\n")

	l, err := NewProfileLoader([]string{dir})
	require.NoError(t, err)

	for _, name := range []string{"heavy", "short", "extra", "renamed", "broken"} {
		_, err := l.Load(name)
		assert.Error(t, err, name)
	}

	_, err = l.Load("../etc/passwd")
	assert.ErrorContains(t, err, "invalid tool profile name")
}

func TestListProfiles(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeProfile(t, a, "gripper.yaml", gripperYAML)
	writeProfile(t, b, "gripper.yml", gripperYAML)
	writeProfile(t, b, "vacuum.yaml", "name: vacuum\n")
	writeProfile(t, b, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(b, "sub.yaml"), 0o755))

	l, err := NewProfileLoader([]string{a, b, filepath.Join(a, "nope")})
	require.NoError(t, err)

	names, err := l.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"gripper", "vacuum"}, names)
}

func TestParseAcceptsJSON(t *testing.T) {
	l, err := NewProfileLoader(nil)
	require.NoError(t, err)

	p, err := l.Parse([]byte(`{"name":"flange","tcp":{"position":[0,0,0],"rotation":[0,0,0]},"payload":0}`))
	require.NoError(t, err)
	assert.Equal(t, "flange", p.Name)
	assert.Nil(t, p.CenterOfGravity)
}

func TestShippedProfilesAreValid(t *testing.T) {
	l, err := NewProfileLoader([]string{filepath.Join("..", "..", "tools")})
	require.NoError(t, err)

	names, err := l.List()
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, name := range names {
		_, err := l.Load(name)
		assert.NoError(t, err, name)
	}
}
