package nginx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// Controller validates and reloads the proxy. Output carries the proxy's
// diagnostic text on success and failure.
type Controller interface {
	Test(ctx context.Context) (output string, err error)
	Reload(ctx context.Context) (output string, err error)
}

const commandTimeout = 30 * time.Second

// ExecController runs the nginx binary on the local host.
type ExecController struct {
	TestCmd   []string
	ReloadCmd []string
}

func (c ExecController) Test(ctx context.Context) (string, error) {
	return runLocal(ctx, c.TestCmd, []string{"nginx", "-t"})
}

func (c ExecController) Reload(ctx context.Context) (string, error) {
	return runLocal(ctx, c.ReloadCmd, []string{"nginx", "-s", "reload"})
}

func runLocal(ctx context.Context, cmd, def []string) (string, error) {
	if len(cmd) == 0 {
		cmd = def
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, cmd[0], cmd[1:]...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s: %w", strings.Join(cmd, " "), err)
	}
	return string(out), nil
}

// DockerController execs the nginx commands inside a running container.
type DockerController struct {
	cli       *client.Client
	container string
	testCmd   []string
	reloadCmd []string
}

// NewDockerController connects with the standard DOCKER_* environment.
func NewDockerController(containerName string, testCmd, reloadCmd []string) (*DockerController, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if len(testCmd) == 0 {
		testCmd = []string{"nginx", "-t"}
	}
	if len(reloadCmd) == 0 {
		reloadCmd = []string{"nginx", "-s", "reload"}
	}
	return &DockerController{cli: cli, container: containerName, testCmd: testCmd, reloadCmd: reloadCmd}, nil
}

func (d *DockerController) Test(ctx context.Context) (string, error) {
	return d.exec(ctx, d.testCmd)
}

func (d *DockerController) Reload(ctx context.Context) (string, error) {
	return d.exec(ctx, d.reloadCmd)
}

func (d *DockerController) Close() error {
	return d.cli.Close()
}

func (d *DockerController) exec(ctx context.Context, cmd []string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	created, err := d.cli.ContainerExecCreate(ctx, d.container, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("exec create in %s: %w", d.container, err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach in %s: %w", d.container, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return "", fmt.Errorf("read exec output: %w", err)
	}
	out := stdout.String() + stderr.String()

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return out, fmt.Errorf("exec inspect in %s: %w", d.container, err)
	}
	if inspect.ExitCode != 0 {
		return out, fmt.Errorf("%s in %s exited with %d", strings.Join(cmd, " "), d.container, inspect.ExitCode)
	}
	return out, nil
}

// NopController accepts every configuration. Used when no proxy is managed.
type NopController struct{}

func (NopController) Test(context.Context) (string, error)   { return "", nil }
func (NopController) Reload(context.Context) (string, error) { return "", nil }

// NewController builds the controller named by kind: "docker", "exec" or
// "none". The returned close func releases any client it opened.
func NewController(kind, containerName string, testCmd, reloadCmd []string) (Controller, func() error, error) {
	switch kind {
	case "docker":
		dc, err := NewDockerController(containerName, testCmd, reloadCmd)
		if err != nil {
			return nil, nil, err
		}
		return dc, dc.Close, nil
	case "exec", "":
		return ExecController{TestCmd: testCmd, ReloadCmd: reloadCmd}, noClose, nil
	case "none":
		return NopController{}, noClose, nil
	default:
		return nil, nil, fmt.Errorf("unknown nginx controller %q", kind)
	}
}

func noClose() error { return nil }
