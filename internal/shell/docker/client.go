package docker

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

// =============================================================================
// Docker Engine Implementation
// =============================================================================

// DockerEngine implements the Engine interface using the Docker SDK.
type DockerEngine struct {
	cli *client.Client
}

// NewDockerEngine creates a new Docker engine client.
// If host is empty, it uses the default Docker host from environment.
func NewDockerEngine(host string) (*DockerEngine, error) {
	var opts []client.Opt
	opts = append(opts, client.FromEnv)
	opts = append(opts, client.WithAPIVersionNegotiation())

	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewEngineError("NewDockerEngine", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerEngine{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerEngine) Ping() error {
	ctx := context.Background()
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewEngineError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerEngine) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Volume Operations
// =============================================================================

// CreateVolume creates a new Docker volume with the local driver.
func (d *DockerEngine) CreateVolume(name string) error {
	ctx := context.Background()

	_, err := d.cli.VolumeCreate(ctx, volume.CreateOptions{
		Name:   name,
		Driver: "local",
	})
	if err != nil {
		return NewEngineError("CreateVolume", "volume", name, err.Error(), err)
	}
	return nil
}

// RemoveVolume removes a Docker volume.
func (d *DockerEngine) RemoveVolume(name string, force bool) error {
	ctx := context.Background()

	err := d.cli.VolumeRemove(ctx, name, force)
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewEngineError("RemoveVolume", "volume", name, "volume not found", ErrVolumeNotFound)
		}
		if strings.Contains(err.Error(), "in use") {
			return NewEngineError("RemoveVolume", "volume", name, "volume is in use", ErrVolumeInUse)
		}
		return NewEngineError("RemoveVolume", "volume", name, err.Error(), err)
	}
	return nil
}

// VolumeExists checks whether a volume with this name exists.
func (d *DockerEngine) VolumeExists(name string) (bool, error) {
	ctx := context.Background()

	_, err := d.cli.VolumeInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewEngineError("VolumeExists", "volume", name, err.Error(), err)
	}
	return true, nil
}

// =============================================================================
// Transient Containers
// =============================================================================

// RunTransient creates a container, runs its command to completion, captures
// its output, and removes it. The container is removed even when the run
// fails or times out.
func (d *DockerEngine) RunTransient(spec TransientSpec) (*RunResult, error) {
	ctx := context.Background()
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	imageName := spec.Image
	if imageName == "" {
		imageName = DefaultImage
	}

	if err := d.ensureImage(ctx, imageName); err != nil {
		return nil, err
	}

	name := spec.Name
	if name == "" {
		name = "dvt-" + uuid.NewString()[:8]
	}

	config := &container.Config{
		Image: imageName,
		Cmd:   spec.Command,
	}

	hostConfig := &container.HostConfig{}
	for _, m := range spec.Mounts {
		mountType := mount.TypeVolume
		if m.Bind {
			mountType = mount.TypeBind
		}
		hostConfig.Mounts = append(hostConfig.Mounts, mount.Mount{
			Type:     mountType,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, name)
	if err != nil {
		return nil, NewEngineError("RunTransient", "container", name, err.Error(), err)
	}
	containerID := resp.ID
	defer func() {
		// Removal runs on a fresh context so a timed-out run still cleans up.
		_ = d.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
	}()

	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, NewEngineError("RunTransient", "container", name, err.Error(), err)
	}

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	var exitCode int
	select {
	case err := <-errCh:
		if err != nil {
			if ctx.Err() != nil {
				return nil, NewEngineError("RunTransient", "container", name, "wait timed out", ErrTimeout)
			}
			return nil, NewEngineError("RunTransient", "container", name, err.Error(), err)
		}
	case status := <-statusCh:
		exitCode = int(status.StatusCode)
	}

	stdout, stderr, err := d.containerOutput(ctx, containerID)
	if err != nil {
		return nil, err
	}

	return &RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
}

// containerOutput collects the demultiplexed stdout and stderr of a stopped
// container.
func (d *DockerEngine) containerOutput(ctx context.Context, containerID string) (string, string, error) {
	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", NewEngineError("RunTransient", "container", containerID, err.Error(), err)
	}
	defer reader.Close()

	var stdout, stderr strings.Builder
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", NewEngineError("RunTransient", "container", containerID, err.Error(), err)
	}
	return stdout.String(), stderr.String(), nil
}

// ensureImage pulls the image when it is not present locally.
func (d *DockerEngine) ensureImage(ctx context.Context, imageName string) error {
	_, _, err := d.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return NewEngineError("EnsureImage", "image", imageName, err.Error(), err)
	}

	reader, err := d.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") {
			return NewEngineError("EnsureImage", "image", imageName, "image not found", ErrImageNotFound)
		}
		return NewEngineError("EnsureImage", "image", imageName, errStr, ErrImagePullFailed)
	}
	defer reader.Close()

	// Drain the reader to complete the pull
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return NewEngineError("EnsureImage", "image", imageName, err.Error(), ErrImagePullFailed)
	}
	return nil
}
