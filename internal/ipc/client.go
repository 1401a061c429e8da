package ipc

import (
	"io"
	"sync"

	"basalt/internal/crypto"
	"basalt/internal/device"
	"basalt/internal/volume"

	"github.com/vmihailenco/msgpack/v5"
)

// Client is the unprivileged side's proxy: it forwards device-level
// calls to the elevated helper and re-raises returned errors by type.
// Calls are synchronous and serialized.
type Client struct {
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

// NewClient wraps the helper's stdio and performs the version
// handshake.
func NewClient(r io.Reader, w io.Writer) (*Client, error) {
	c := &Client{r: r, w: w}
	if err := clientHandshake(r, w); err != nil {
		return nil, err
	}
	return c, nil
}

// call issues one request and decodes the reply into out (which may be
// nil for result-free operations).
func (c *Client) call(op string, args any, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rawArgs, err := msgpack.Marshal(args)
	if err != nil {
		return err
	}
	defer crypto.SecureZero(rawArgs)
	if err := writeFrame(c.w, &request{Op: op, Args: rawArgs}); err != nil {
		return err
	}

	var resp response
	if err := readFrame(c.r, &resp); err != nil {
		return err
	}
	if resp.Err != nil {
		return fromWireError(resp.Err)
	}
	if out != nil && resp.Result != nil {
		return msgpack.Unmarshal(resp.Result, out)
	}
	return nil
}

// Mount forwards a mount request.
func (c *Client) Mount(args MountArgs) (volume.Info, error) {
	var info volume.Info
	err := c.call(opMount, &args, &info)
	return info, err
}

// Dismount forwards a dismount request.
func (c *Client) Dismount(slot int, force bool) (volume.Info, error) {
	var info volume.Info
	err := c.call(opDismount, &DismountArgs{Slot: slot, Force: force}, &info)
	return info, err
}

// DismountAll forwards a dismount-all request.
func (c *Client) DismountAll(force bool) error {
	return c.call(opDismountAll, &DismountArgs{Force: force}, nil)
}

// GetMountedVolumes snapshots the helper's mounted-volume table.
func (c *Client) GetMountedVolumes() ([]volume.Info, error) {
	var infos []volume.Info
	err := c.call(opGetMountedVolumes, struct{}{}, &infos)
	return infos, err
}

// GetHostDevices probes block devices with the helper's privileges.
func (c *Client) GetHostDevices(pathsOnly bool) ([]device.HostDevice, error) {
	var devices []device.HostDevice
	err := c.call(opGetHostDevices, &HostDevicesArgs{PathsOnly: pathsOnly}, &devices)
	return devices, err
}

// CreateKeyfile writes a keyfile with the helper's privileges.
func (c *Client) CreateKeyfile(path string) error {
	return c.call(opCreateKeyfile, &KeyfileArgs{Path: path}, nil)
}

// RunSelfTest runs the helper's self-test.
func (c *Client) RunSelfTest() error {
	return c.call(opRunSelfTest, struct{}{}, nil)
}
