package verifier

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/antigravity-dev/cortex/internal/projects"
)

// RunStepContainer builds a step runner that executes each step's
// command inside a disposable container built from image, with the
// workspace bind-mounted read-write at /workspace (§6.6
// Verification.UseContainer/ContainerImage). The returned func has the
// same shape as RunStep so Run can swap backends transparently.
func RunStepContainer(image string) func(ctx context.Context, workspace string, step Step, defaultTimeout time.Duration) projects.VerificationCheck {
	return func(ctx context.Context, workspace string, step Step, defaultTimeout time.Duration) projects.VerificationCheck {
		timeout := defaultTimeout
		if step.TimeoutSeconds > 0 {
			timeout = time.Duration(step.TimeoutSeconds) * time.Second
		}
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		executedAt := time.Now()
		check := projects.VerificationCheck{Name: step.Name, Type: step.Type, Command: step.Command, Priority: step.Priority, ExecutedAt: executedAt}

		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			check.Failed = true
			check.Output = fmt.Sprintf("docker client: %v", err)
			return check
		}
		defer cli.Close()

		containerCfg := &container.Config{
			Image:      image,
			Cmd:        []string{"sh", "-c", step.Command},
			WorkingDir: "/workspace",
			Tty:        false,
		}
		hostCfg := &container.HostConfig{
			Mounts: []mount.Mount{
				{Type: mount.TypeBind, Source: workspace, Target: "/workspace"},
			},
			AutoRemove: false,
		}

		name := fmt.Sprintf("cortex-verify-%s-%d", step.Name, time.Now().UnixNano())
		resp, err := cli.ContainerCreate(runCtx, containerCfg, hostCfg, nil, nil, name)
		if err != nil {
			check.Failed = true
			check.Output = fmt.Sprintf("creating verification container: %v", err)
			return check
		}
		defer cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true, RemoveVolumes: true})

		if err := cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
			check.Failed = true
			check.Output = fmt.Sprintf("starting verification container: %v", err)
			return check
		}

		statusCh, errCh := cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
		var exitCode int64
		select {
		case waitErr := <-errCh:
			if runCtx.Err() != nil {
				check.Failed = true
				check.Output = fmt.Sprintf("timeout after %s", timeout)
				return check
			}
			check.Failed = true
			check.Output = fmt.Sprintf("waiting for verification container: %v", waitErr)
			return check
		case status := <-statusCh:
			exitCode = status.StatusCode
		}

		logs, err := cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
		var combined bytes.Buffer
		if err == nil {
			var stdout, stderr bytes.Buffer
			stdcopy.StdCopy(&stdout, &stderr, logs)
			logs.Close()
			combined.WriteString(stdout.String())
			combined.WriteString(stderr.String())
		}

		check.Output = truncate(combined.String(), maxReportOutput)
		check.ExitCode = int(exitCode)
		check.DurationSeconds = time.Since(executedAt).Seconds()
		check.Passed = evaluateCriterion(step.SuccessCriterion, int(exitCode), combined.String())
		check.Failed = !check.Passed
		return check
	}
}
