package prober

import (
	"context"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"silexa/gcc/internal/logging"
)

// dockerProbe enriches the shelled `docker info`/`docker ps` probes with the
// real Docker Engine SDK, grounded on agents/shared/docker/client.go's
// NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation()) +
// Ping + ContainerList pattern.
type dockerProbe struct {
	cli *client.Client
}

// NewDockerProbe connects to the local Docker Engine. It returns (nil, nil)
// rather than an error when no daemon is reachable, since the Environment
// Prober treats a missing Docker install as "not_running", not a fatal
// condition.
func NewDockerProbe() (DockerProbe, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		logging.Default.Debugf("prober: docker ping failed, treating as not_running: %v", err)
		return nil, nil
	}
	return &dockerProbe{cli: cli}, nil
}

func (d *dockerProbe) Probe(ctx context.Context) ToolStatus {
	if d == nil || d.cli == nil {
		return ToolStatus{Status: "not_running", ContainerCount: 0}
	}
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := d.cli.Ping(probeCtx); err != nil {
		return ToolStatus{Status: "not_running", ContainerCount: 0}
	}

	containers, err := d.cli.ContainerList(probeCtx, container.ListOptions{All: false})
	if err != nil {
		return ToolStatus{Status: "ready", ContainerCount: 0}
	}
	return ToolStatus{Status: "ready", ContainerCount: len(containers)}
}
