package runtime

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"fleetd/internal/fleet"
)

func TestRunArgs_Full(t *testing.T) {
	d := NewDockerCLI(DockerConfig{
		Image:   "ollama/ollama:latest",
		Label:   "ollama-worker",
		Network: "chimera-net",
		Volume:  "ollama-data",
		GPUs:    "all",
	}, zerolog.Nop())
	args := d.runArgs(fleet.StartSpec{Name: "ollama-worker-ab12cd34", Model: "gemma:2b"})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"run -d",
		"--name ollama-worker-ab12cd34",
		"--label ollama-worker=true",
		"--restart unless-stopped",
		"--network chimera-net",
		"-v ollama-data:/root/.ollama",
		"--gpus all",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
	if args[len(args)-1] != "ollama/ollama:latest" {
		t.Fatalf("image must be last arg, got %q", args[len(args)-1])
	}
}

func TestRunArgs_Minimal(t *testing.T) {
	d := NewDockerCLI(DockerConfig{Image: "ollama/ollama"}, zerolog.Nop())
	args := d.runArgs(fleet.StartSpec{Name: "w"})
	joined := strings.Join(args, " ")
	for _, absent := range []string{"--network", "--gpus", "-v "} {
		if strings.Contains(joined, absent) {
			t.Fatalf("unexpected %q in %q", absent, joined)
		}
	}
}

func TestDefaults(t *testing.T) {
	d := NewDockerCLI(DockerConfig{Image: "img"}, zerolog.Nop())
	if d.cfg.Bin != "docker" || d.cfg.Port != 11434 || d.cfg.Label != "ollama-worker" {
		t.Fatalf("defaults not applied: %+v", d.cfg)
	}
}
