package bisector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

const dockerScheme = "docker://"

var errNoDockerClient = errors.New("docker oracle has no client, it has to be created with NewDockerOracle")

// ContainerLabel is set on every container created by a [DockerOracle]
const ContainerLabel = "bisector"

// DockerOracle runs a test binary inside a container.
// Every invocation creates a fresh container, which is removed again once its output was captured.
// DockerOracles have to be created with [NewDockerOracle].
type DockerOracle struct {
	Image      string // The image to run
	Entrypoint string // The path of the test binary inside the image. If empty, the image's entrypoint is used

	log *logrus.Entry
	cli *client.Client
}

// NewDockerOracle creates an oracle from a reference of the form
//
//	docker://image[:tag][#/path/to/binary]
//
// and waits until the docker daemon is reachable, retrying according to the passed backoff.
func NewDockerOracle(ctx context.Context, ref string, backoff BackoffConfig, log *logrus.Entry) (*DockerOracle, error) {
	image, entrypoint, err := parseDockerRef(ref)
	if err != nil {
		return nil, err
	}

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create new docker client"), err)
	}

	if err := backoff.retry(ctx, log, func() error {
		_, err := cli.Ping(ctx)
		return err
	}); err != nil {
		cli.Close()
		return nil, errors.Join(fmt.Errorf("docker daemon not reachable"), err)
	}

	return &DockerOracle{
		Image:      image,
		Entrypoint: entrypoint,

		log: log,
		cli: cli,
	}, nil
}

// parseDockerRef splits a docker oracle reference into its image and entrypoint
func parseDockerRef(ref string) (string, string, error) {
	rest, ok := strings.CutPrefix(ref, dockerScheme)
	if !ok {
		return "", "", fmt.Errorf("%s is not a docker oracle reference", ref)
	}
	image, entrypoint, _ := strings.Cut(rest, "#")
	if image == "" {
		return "", "", fmt.Errorf("no image in docker oracle reference %s", ref)
	}
	return image, entrypoint, nil
}

func (d *DockerOracle) Run(ctx context.Context, args ...string) ([]byte, error) {
	if d.cli == nil {
		return nil, d.oracleError(args, -1, errNoDockerClient)
	}

	containerConfig := &container.Config{
		Image:  d.Image,
		Cmd:    args,
		Labels: map[string]string{ContainerLabel: "1"},
	}
	if d.Entrypoint != "" {
		containerConfig.Entrypoint = []string{d.Entrypoint}
	}

	containerName := "bisector-" + uniuri.New()

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, &container.HostConfig{}, nil, nil, containerName)
	if err != nil {
		return nil, d.oracleError(args, -1, errors.Join(fmt.Errorf("container creation with name %s of image %s failed", containerName, d.Image), err))
	}
	defer func() {
		// The passed context might be done already
		if err := d.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil && d.log != nil {
			d.log.Warnf("Failed to remove container %s - %v", containerName, err)
		}
	}()

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, d.oracleError(args, -1, errors.Join(fmt.Errorf("container start with name %s of image %s failed", containerName, d.Image), err))
	}

	// Wait for the test binary to exit
	var exitCode int64
	statusChan, errChan := d.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errChan:
		return nil, d.oracleError(args, -1, err)
	case status := <-statusChan:
		if status.Error != nil {
			return nil, d.oracleError(args, -1, errors.New(status.Error.Message))
		}
		exitCode = status.StatusCode
	}

	logs, err := d.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, d.oracleError(args, int(exitCode), err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return stdout.Bytes(), d.oracleError(args, int(exitCode), err)
	}
	if d.log != nil && stderr.Len() > 0 {
		d.log.Tracef("%s %s stderr:\n%s", d, strings.Join(args, " "), stderr.String())
	}

	if exitCode != 0 {
		return stdout.Bytes(), d.oracleError(args, int(exitCode), fmt.Errorf("container %s exited with status %d", containerName, exitCode))
	}
	return stdout.Bytes(), nil
}

func (d *DockerOracle) oracleError(args []string, exitCode int, err error) error {
	return &OracleError{
		Oracle:   d.String(),
		Args:     args,
		ExitCode: exitCode,
		Err:      err,
	}
}

func (d *DockerOracle) String() string {
	if d.Entrypoint == "" {
		return dockerScheme + d.Image
	}
	return dockerScheme + d.Image + "#" + d.Entrypoint
}

// Fingerprint returns the digest of the image ID the oracle's image currently resolves to
func (d *DockerOracle) Fingerprint() (digest.Digest, error) {
	if d.cli == nil {
		return "", errNoDockerClient
	}
	inspect, _, err := d.cli.ImageInspectWithRaw(context.Background(), d.Image)
	if err != nil {
		return "", err
	}
	return digest.Parse(inspect.ID)
}

// Close closes the oracle's docker client
func (d *DockerOracle) Close() error {
	if d.cli == nil {
		return nil
	}
	return d.cli.Close()
}
