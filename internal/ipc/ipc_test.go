package ipc

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"basalt/internal/core"
	"basalt/internal/creator"
	"basalt/internal/errors"
	"basalt/internal/util"
	"basalt/internal/volume"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPair wires a client and server over in-process pipes, as the real
// deployment wires them over the helper's stdio.
func newPair(t *testing.T) (*Client, *core.Core) {
	t.Helper()

	c := core.New()
	require.NoError(t, c.Init())
	t.Cleanup(func() { c.Shutdown() })

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	srv := NewServer(c, serverIn, serverOut)
	go srv.Serve()
	t.Cleanup(func() {
		clientOut.Close()
		serverOut.Close()
	})

	client, err := NewClient(clientIn, clientOut)
	require.NoError(t, err)
	return client, c
}

func newTestVolume(t *testing.T, c *core.Core, password string) string {
	t.Helper()
	p, err := volume.NewPassword([]byte(password))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "volume.tc")
	require.NoError(t, c.CreateVolume(creator.Options{
		Path:      path,
		Size:      2 * util.MiB,
		Kdf:       "SHA-512",
		LegacyKdf: true,
		Password:  p,
		Quick:     true,
	}))
	for c.GetCreationProgress().InProgress {
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, c.GetCreationProgress().Err)
	return path
}

func TestVersionHandshake(t *testing.T) {
	client, _ := newPair(t)
	require.NotNil(t, client)
}

func TestMountDismountOverIPC(t *testing.T) {
	client, c := newPair(t)
	path := newTestVolume(t, c, "ipc pw")

	info, err := client.Mount(MountArgs{
		Path:     path,
		Password: []byte("ipc pw"),
		Shim:     int(core.ShimNone),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, info.Slot)
	assert.Equal(t, path, info.Path)

	// Error identity survives the wire: mounting again raises the
	// same sentinel on the client side.
	_, err = client.Mount(MountArgs{
		Path:     path,
		Password: []byte("ipc pw"),
		Shim:     int(core.ShimNone),
	})
	assert.ErrorIs(t, err, errors.ErrVolumeAlreadyMounted)

	infos, err := client.GetMountedVolumes()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, path, infos[0].Path)

	out, err := client.Dismount(1, false)
	require.NoError(t, err)
	assert.Equal(t, path, out.Path)

	infos, err = client.GetMountedVolumes()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestCreateKeyfileOverIPC(t *testing.T) {
	client, _ := newPair(t)

	kf := filepath.Join(t.TempDir(), "k.key")
	require.NoError(t, client.CreateKeyfile(kf))

	// Second creation hits the existing file and must surface as an
	// error, not a silent overwrite.
	assert.Error(t, client.CreateKeyfile(kf))
}

func TestRunSelfTestOverIPC(t *testing.T) {
	client, _ := newPair(t)
	require.NoError(t, client.RunSelfTest())
}

func TestDismountEmptySlotError(t *testing.T) {
	client, _ := newPair(t)

	_, err := client.Dismount(42, false)
	assert.Error(t, err)
}
