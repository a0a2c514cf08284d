package sandbox

import (
	"archive/tar"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContainerConfigs(t *testing.T) {
	spec := CreateSpec{
		Name:            "lean-docker-mcp-transient-abc12345",
		Image:           "lean-docker-mcp:latest",
		Cmd:             []string{"lean", "-r", "/home/leanuser/project/Script.lean"},
		WorkingDir:      "/home/leanuser/project",
		User:            "leanuser",
		MemoryBytes:     256 * 1024 * 1024,
		CPUQuota:        50000,
		NetworkDisabled: true,
		ReadOnlyRootfs:  true,
		Binds:           []string{"/tmp/x:/home/leanuser/project"},
		Labels:          map[string]string{"lean-docker-mcp.session_id": "s"},
	}

	cfg, hostCfg := containerConfigs(spec)
	assert.Equal(t, "lean-docker-mcp:latest", cfg.Image)
	assert.Equal(t, "leanuser", cfg.User)
	assert.Equal(t, "/home/leanuser/project", cfg.WorkingDir)
	assert.True(t, cfg.NetworkDisabled)
	assert.Equal(t, "s", cfg.Labels["lean-docker-mcp.session_id"])
	assert.Equal(t, []string{"lean", "-r", "/home/leanuser/project/Script.lean"}, []string(cfg.Cmd))

	assert.True(t, hostCfg.ReadonlyRootfs)
	assert.Equal(t, spec.Binds, hostCfg.Binds)
	assert.Equal(t, int64(256*1024*1024), hostCfg.Resources.Memory)
	assert.Equal(t, int64(50000), hostCfg.Resources.CPUQuota)
}

func TestTarArchiveSingleFile(t *testing.T) {
	content := []byte("#eval 6 * 7\n")
	archive, err := tarArchive("Script_deadbeef.lean", content)
	require.NoError(t, err)

	tr := tar.NewReader(archive)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "Script_deadbeef.lean", hdr.Name)
	assert.Equal(t, int64(len(content)), hdr.Size)

	data, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}
