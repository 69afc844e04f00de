package bisector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	_ "crypto/sha256"

	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
)

// An Oracle produces a deterministic report for the arguments it is invoked with.
//
// Oracles are expected to understand two forms of arguments:
//   - a range of test cases, see [ArgStyle]
//   - a single negative number "-N", for which a detailed report of test case N is produced
type Oracle interface {
	// Run invokes the oracle and returns its captured output.
	// If the oracle failed, the output produced so far is returned alongside an error.
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// OracleFunc adapts an ordinary function to an [Oracle].
type OracleFunc func(ctx context.Context, args ...string) ([]byte, error)

func (f OracleFunc) Run(ctx context.Context, args ...string) ([]byte, error) {
	return f(ctx, args...)
}

func (f OracleFunc) String() string {
	return "func"
}

// A Fingerprinter is an oracle which can identify the build it runs.
type Fingerprinter interface {
	Fingerprint() (digest.Digest, error)
}

const waitDelay = time.Second

// ExecOracle runs a local executable. The standard error of the executable is discarded and only logged at trace level.
type ExecOracle struct {
	Path string // Path to the executable

	Log *logrus.Entry // The log to which the stderr of the executable gets printed to
}

func (o ExecOracle) Run(ctx context.Context, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, o.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Children of a killed oracle may keep its output open
	cmd.WaitDelay = waitDelay
	err := cmd.Run()

	if o.Log != nil && stderr.Len() > 0 {
		o.Log.Tracef("%s %s stderr:\n%s", o.Path, strings.Join(args, " "), stderr.String())
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return stdout.Bytes(), &OracleError{
			Oracle:   o.Path,
			Args:     args,
			ExitCode: exitCode,
			Err:      err,
		}
	}
	return stdout.Bytes(), nil
}

func (o ExecOracle) String() string {
	return o.Path
}

// Fingerprint returns the digest of the executable's contents
func (o ExecOracle) Fingerprint() (digest.Digest, error) {
	file, err := os.Open(o.Path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	return digest.FromReader(file)
}

// ParseOracle returns the oracle described by ref.
// References starting with "docker://" are run as containers, see [NewDockerOracle], everything else is taken to be a path to an executable.
// The existence of executables is not checked.
func ParseOracle(ctx context.Context, ref string, log *logrus.Entry) (Oracle, error) {
	return parseOracle(ctx, ref, DefaultBackoff, log)
}

func parseOracle(ctx context.Context, ref string, backoff BackoffConfig, log *logrus.Entry) (Oracle, error) {
	if strings.HasPrefix(ref, dockerScheme) {
		return NewDockerOracle(ctx, ref, backoff, log)
	}
	if ref == "" {
		return nil, fmt.Errorf("empty oracle reference")
	}
	return ExecOracle{Path: ref, Log: log}, nil
}

// oracleName returns a human readable name of the passed oracle
func oracleName(o Oracle) string {
	if s, ok := o.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", o)
}

// closeOracle closes the passed oracle if it holds any resources
func closeOracle(o Oracle) error {
	if c, ok := o.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
