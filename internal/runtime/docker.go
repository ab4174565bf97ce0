// Package runtime provides WorkerRuntime implementations. The production
// substrate shells out to the docker CLI; the scheduling core never talks to
// docker directly.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"fleetd/internal/fleet"
)

// DockerConfig carries the container parameters for spawned workers.
type DockerConfig struct {
	Bin     string // docker binary, default "docker"
	Image   string // worker image, e.g. ollama/ollama:latest
	Label   string // label key applied to and filtered on worker containers
	Network string // docker network shared with the gateway
	Volume  string // named volume mounted at the worker's model directory
	GPUs    string // value for --gpus, empty disables GPU attachment
	Port    int    // worker API port inside the network
}

func (c DockerConfig) withDefaults() DockerConfig {
	if c.Bin == "" {
		c.Bin = "docker"
	}
	if c.Label == "" {
		c.Label = "ollama-worker"
	}
	if c.Port == 0 {
		c.Port = 11434
	}
	return c
}

// DockerCLI runs workers as labeled docker containers. Workers are reached
// by container name over the shared network, so no host ports are published.
type DockerCLI struct {
	cfg DockerConfig
	log zerolog.Logger
}

// NewDockerCLI constructs a docker-CLI-backed runtime.
func NewDockerCLI(cfg DockerConfig, log zerolog.Logger) *DockerCLI {
	return &DockerCLI{cfg: cfg.withDefaults(), log: log}
}

// Start launches a worker container. A stale container with the same name is
// force-removed first so respawns after crashes cannot collide.
func (d *DockerCLI) Start(ctx context.Context, spec fleet.StartSpec) (fleet.Container, error) {
	// best effort: the name is usually free
	_ = d.exec(ctx, "rm", "-f", spec.Name)

	out, err := d.execOut(ctx, d.runArgs(spec)...)
	if err != nil {
		return fleet.Container{}, fmt.Errorf("docker run %s: %w", spec.Name, err)
	}
	d.log.Info().Str("name", spec.Name).Str("container", strings.TrimSpace(out)).Msg("worker container started")
	return fleet.Container{
		Handle:  spec.Name,
		Name:    spec.Name,
		BaseURL: fmt.Sprintf("http://%s:%d", spec.Name, d.cfg.Port),
	}, nil
}

// runArgs builds the docker run invocation for a worker. Split out for tests.
func (d *DockerCLI) runArgs(spec fleet.StartSpec) []string {
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"--label", d.cfg.Label + "=true",
		"--restart", "unless-stopped",
	}
	if d.cfg.Network != "" {
		args = append(args, "--network", d.cfg.Network)
	}
	if d.cfg.Volume != "" {
		args = append(args, "-v", d.cfg.Volume+":/root/.ollama")
	}
	if d.cfg.GPUs != "" {
		args = append(args, "--gpus", d.cfg.GPUs)
	}
	args = append(args, d.cfg.Image)
	return args
}

// Stop force-removes a worker container. Idempotent: a missing container is
// not an error.
func (d *DockerCLI) Stop(ctx context.Context, handle string) error {
	if err := d.exec(ctx, "rm", "-f", handle); err != nil {
		if strings.Contains(err.Error(), "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm %s: %w", handle, err)
	}
	return nil
}

// List returns every container carrying the worker label, running or not.
func (d *DockerCLI) List(ctx context.Context) ([]fleet.Container, error) {
	out, err := d.execOut(ctx, "ps", "-a", "--filter", "label="+d.cfg.Label+"=true", "--format", "{{.Names}}")
	if err != nil {
		return nil, fmt.Errorf("docker ps: %w", err)
	}
	var containers []fleet.Container
	for _, name := range strings.Fields(out) {
		containers = append(containers, fleet.Container{
			Handle:  name,
			Name:    name,
			BaseURL: fmt.Sprintf("http://%s:%d", name, d.cfg.Port),
		})
	}
	return containers, nil
}

func (d *DockerCLI) exec(ctx context.Context, args ...string) error {
	_, err := d.execOut(ctx, args...)
	return err
}

func (d *DockerCLI) execOut(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.cfg.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > 4096 {
			tail = tail[len(tail)-4096:]
		}
		return stdout.String(), fmt.Errorf("%w: %s", err, tail)
	}
	return stdout.String(), nil
}
