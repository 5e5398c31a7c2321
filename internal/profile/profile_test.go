package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileYieldsDefault(t *testing.T) {
	t.Parallel()

	s, err := Load(filepath.Join(t.TempDir(), "profiles.yaml"))
	require.NoError(t, err)

	p := s.Select(0)
	require.NotNil(t, p)
	assert.Equal(t, "default", p.Name)
	assert.Equal(t, 45.0, p.TargetWeight)
	assert.Nil(t, s.Select(3))
}

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profiles.yaml")
	src := `profiles:
  - index: 0
    name: "223 rem"
    target_weight: 24.5
    coarse_kp: 0.35
    coarse_kd: 0.12
  - index: 2
    name: "6.5 creedmoor"
    target_weight: 41.2
    fine_kp: 3.0
    fine_kd: 0.8
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	require.Len(t, s.All(), 2)

	p := s.Select(2)
	require.NotNil(t, p)
	assert.Equal(t, "6.5 creedmoor", p.Name)
	assert.Equal(t, 3.0, p.FineKP)

	p.FineKD = 1.25
	require.NoError(t, s.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1.25, reloaded.Select(2).FineKD)
}

func TestLoad_RejectsEmptyAndOversized(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("profiles: []\n"), 0o644))
	_, err := Load(empty)
	require.Error(t, err)

	big := "profiles:\n"
	for i := 0; i < MaxProfiles+1; i++ {
		big += "  - index: 0\n    name: x\n"
	}
	oversized := filepath.Join(dir, "big.yaml")
	require.NoError(t, os.WriteFile(oversized, []byte(big), 0o644))
	_, err = Load(oversized)
	require.Error(t, err)
}
