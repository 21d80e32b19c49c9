package containers

import (
	"context"
	"errors"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Info is the subset of container state the control plane inspects.
type Info struct {
	ID      string
	Running bool
	Env     []string
}

// Runtime is the container-runtime boundary. Stop and Inspect are synchronous
// and may fail; a Stop failure is fatal to the termination attempt that issued
// it.
type Runtime interface {
	Stop(ctx context.Context, containerID string) error
	Inspect(ctx context.Context, containerID string) (Info, error)
}

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	api         *client.Client
	stopTimeout time.Duration
}

// NewDockerRuntime creates a DockerRuntime from the environment
// (DOCKER_HOST etc.), negotiating the API version with the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	api, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerRuntime{api: api, stopTimeout: 10 * time.Second}, nil
}

// Stop asks the daemon to stop the container, allowing its entrypoint the
// configured grace period before the daemon escalates.
func (r *DockerRuntime) Stop(ctx context.Context, containerID string) error {
	if r == nil || r.api == nil {
		return errors.New("nil docker runtime")
	}
	secs := int(r.stopTimeout / time.Second)
	return r.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs})
}

// Inspect returns the container's run state and environment bindings.
func (r *DockerRuntime) Inspect(ctx context.Context, containerID string) (Info, error) {
	if r == nil || r.api == nil {
		return Info{}, errors.New("nil docker runtime")
	}
	resp, err := r.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return Info{}, err
	}

	info := Info{ID: resp.ID}
	if resp.State != nil {
		info.Running = resp.State.Running
	}
	if resp.Config != nil {
		info.Env = resp.Config.Env
	}
	return info, nil
}

// Close releases the underlying API client.
func (r *DockerRuntime) Close() error {
	if r == nil || r.api == nil {
		return nil
	}
	return r.api.Close()
}
