package bisector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/dchest/uniuri"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"
)

// Mode selects the driver used by a bisection
type Mode int

const (
	// Chunks scans windows of test cases using [ScanChunks]
	Chunks Mode = iota
	// Fixed scans the test cases up to a bound using [ScanFixed]
	Fixed
)

var modes = map[string]Mode{
	"chunks": Chunks,
	"fixed":  Fixed,
}

type bisectionYaml struct {
	Name string `yaml:"name"`

	Reference string `yaml:"reference"`
	Candidate string `yaml:"candidate"`

	Mode string `yaml:"mode" default:"chunks"`

	Start      *int `yaml:"start"` // Nil if not set, as 0 is invalid
	ChunkSize  int  `yaml:"chunkSize" default:"100000"`
	MaxWindows int  `yaml:"maxWindows"`

	Bound int `yaml:"bound" default:"3000000"`

	ArgStyle string `yaml:"argStyle" default:"range"`

	Timeout int `yaml:"timeout"` // In milliseconds

	Parallel bool `yaml:"parallel"`
	Strict   bool `yaml:"strict"`
	Verify   bool `yaml:"verify"`
	Snapshot bool `yaml:"snapshot"`
}

type jobYaml struct {
	MaxConcurrent uint   `yaml:"maxConcurrent"`
	OutputDir     string `yaml:"outputDir"`

	Docker backoffYaml `yaml:"docker"`

	Bisections []bisectionYaml `yaml:"bisections"`
}

// GetJobFromConfig reads in a job config in yaml format from a reader and initializes the corresponding job struct
func GetJobFromConfig(r io.Reader) (*Job, error) {
	var config jobYaml

	// Read in yaml
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}
	if err := defaults.Set(&config.Docker); err != nil {
		return nil, err
	}

	// Convert to Job struct
	job := Job{
		MaxConcurrent: config.MaxConcurrent,
		OutputDir:     config.OutputDir,

		DockerBackoff: config.Docker.config(),
	}

	for i, b := range config.Bisections {
		if err := defaults.Set(&b); err != nil {
			return nil, err
		}

		mode, ok := modes[strings.ToLower(b.Mode)]
		if !ok {
			return nil, fmt.Errorf("invalid mode %s supplied for bisection %d", b.Mode, i)
		}
		style, err := ParseArgStyle(b.ArgStyle)
		if err != nil {
			return nil, fmt.Errorf("invalid arg style supplied for bisection %d - %v", i, err)
		}

		name := b.Name
		if name == "" {
			name = fmt.Sprintf("bisection-%d", i)
		}

		start := 1
		if b.Start != nil {
			start = *b.Start
			if start < 1 {
				return nil, fmt.Errorf("%w: bisection %d starts at test %d, tests are numbered from 1", ErrInvalidInterval, i, start)
			}
		}

		bisection := Bisection{
			Name: name,

			Reference: b.Reference,
			Candidate: b.Candidate,

			Mode: mode,

			Chunks: ChunkOptions{
				Start:      start,
				Size:       b.ChunkSize,
				MaxWindows: b.MaxWindows,
			},
			Fixed: FixedOptions{
				Bound: b.Bound,
			},

			Style: style,

			Timeout: time.Duration(b.Timeout) * time.Millisecond,

			Parallel: b.Parallel,
			Strict:   b.Strict,
			Verify:   b.Verify,
			Snapshot: b.Snapshot,
		}
		if err := bisection.Validate(); err != nil {
			return nil, fmt.Errorf("invalid bisection %d - %v", i, err)
		}
		job.Bisections = append(job.Bisections, bisection)
	}

	return &job, nil
}

// A Bisection describes the search for the first divergence between a single pair of oracles.
type Bisection struct {
	Name string // Name of this bisection, used in logs and results

	Reference string // Reference to the reference oracle, see [ParseOracle]
	Candidate string // Reference to the candidate oracle, see [ParseOracle]

	Mode Mode // The driver to use

	Chunks ChunkOptions // Only used in the Chunks mode
	Fixed  FixedOptions // Only used in the Fixed mode

	Style ArgStyle // How ranges of test cases are passed to the oracles

	Timeout time.Duration // The timeout of a single oracle invocation, or 0 if there is none

	Parallel bool // See [Pair.Parallel]
	Strict   bool // See [Pair.Strict]
	Verify   bool // See [Pair.Verify]

	Snapshot bool // Whether executable oracles are copied to a temporary directory before being run

	DockerBackoff BackoffConfig // How long to wait for the docker daemon when using docker oracles. Defaults to [DefaultBackoff]
}

// Validate checks that the bisection names both oracles and that the options of its driver are usable
func (b Bisection) Validate() error {
	if b.Reference == "" || b.Candidate == "" {
		return fmt.Errorf("bisection %s needs both a reference and a candidate oracle", b.Name)
	}

	switch b.Mode {
	case Chunks:
		return b.Chunks.withDefaults().validate(b.Style)
	case Fixed:
		if b.Fixed.Bound < 0 {
			return fmt.Errorf("%w [1, %d]", ErrInvalidInterval, b.Fixed.Bound)
		}
		return nil
	}
	return fmt.Errorf("%d is not a valid mode", b.Mode)
}

// Open creates the pair of oracles of this bisection.
// The returned function has to be called once the pair isn't needed anymore.
func (b Bisection) Open(ctx context.Context, log *logrus.Entry) (*Pair, func(), error) {
	if b.Reference == "" || b.Candidate == "" {
		return nil, nil, fmt.Errorf("bisection %s needs both a reference and a candidate oracle", b.Name)
	}

	refPath, candPath := b.Reference, b.Candidate
	snapshotDir := ""
	if b.Snapshot {
		var toCopy []string
		if !strings.HasPrefix(refPath, dockerScheme) {
			toCopy = append(toCopy, refPath)
		}
		if !strings.HasPrefix(candPath, dockerScheme) {
			toCopy = append(toCopy, candPath)
		}

		dir, copies, err := snapshot(toCopy...)
		if err != nil {
			return nil, nil, err
		}
		snapshotDir = dir
		log.Debugf("Snapshotted oracles into %s", dir)

		if !strings.HasPrefix(refPath, dockerScheme) {
			refPath, copies = copies[0], copies[1:]
		}
		if !strings.HasPrefix(candPath, dockerScheme) {
			candPath = copies[0]
		}
	}

	removeSnapshot := func() {
		if snapshotDir != "" {
			if err := os.RemoveAll(snapshotDir); err != nil {
				log.Warnf("Failed to remove snapshot %s - %v", snapshotDir, err)
			}
		}
	}

	backoff := b.DockerBackoff
	if backoff.Retries == 0 {
		backoff = DefaultBackoff
	}

	ref, err := parseOracle(ctx, refPath, backoff, log.WithField("oracle", "ref"))
	if err != nil {
		removeSnapshot()
		return nil, nil, errors.Join(fmt.Errorf("failed to open reference oracle %s", b.Reference), err)
	}
	cand, err := parseOracle(ctx, candPath, backoff, log.WithField("oracle", "new"))
	if err != nil {
		closeOracle(ref)
		removeSnapshot()
		return nil, nil, errors.Join(fmt.Errorf("failed to open candidate oracle %s", b.Candidate), err)
	}

	pair := &Pair{
		Reference: ref,
		Candidate: cand,

		Style: b.Style,

		Parallel: b.Parallel,
		Timeout:  b.Timeout,
		Strict:   b.Strict,
		Verify:   b.Verify,

		Log: log,
	}

	return pair, func() {
		if err := pair.Close(); err != nil {
			log.Warnf("Failed to close oracles - %v", err)
		}
		removeSnapshot()
	}, nil
}

// Scan runs the driver of this bisection on the passed pair
func (b Bisection) Scan(ctx context.Context, p *Pair) (*Divergence, error) {
	switch b.Mode {
	case Chunks:
		return ScanChunks(ctx, p, b.Chunks)
	case Fixed:
		return ScanFixed(ctx, p, b.Fixed)
	}
	return nil, fmt.Errorf("%d is not a valid mode", b.Mode)
}

// A Job runs multiple bisections concurrently.
type Job struct {
	Bisections []Bisection // The bisections of this job

	MaxConcurrent uint // The max amount of bisections that can run concurrently, or 0 if no limit

	OutputDir string // The directory in which found divergences get archived, or empty if they shouldn't be archived

	DockerBackoff BackoffConfig // How long to wait for the docker daemon when using docker oracles

	Log *logrus.Logger // The log to which information gets printed to

	bisectionSemaphore *semaphore.Weighted

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// A Result represents a finished bisection of a job.
type Result struct {
	ID string // Unique ID of this result

	BisectionIndex int    // The index of the bisection in the job
	Name           string // The name of the bisection

	Divergence *Divergence // The found divergence, or nil if the oracles agreed on all scanned test cases

	ReportPath string // The path of the archived divergence, if it was archived

	Err error // Set if the bisection could not be completed
}

// Run the job. Every bisection is started in its own goroutine, of which at most MaxConcurrent run at once.
// The returned channel receives one [Result] per bisection and is closed once all bisections are done.
func (job *Job) Run(ctx context.Context) (chan Result, error) {
	// Init the logger
	if job.Log == nil {
		// Mute logger
		job.Log = logrus.New()
		job.Log.SetOutput(io.Discard)
	}

	if len(job.Bisections) == 0 {
		return nil, fmt.Errorf("job has no bisections")
	}
	for i, b := range job.Bisections {
		if err := b.Validate(); err != nil {
			return nil, errors.Join(fmt.Errorf("bisection %d is invalid", i), err)
		}
	}

	// Init the bisection semaphore
	maxConcurrent := int64(job.MaxConcurrent)
	if maxConcurrent == 0 {
		maxConcurrent = math.MaxInt64
	}
	job.bisectionSemaphore = semaphore.NewWeighted(maxConcurrent)

	ctx, job.cancel = context.WithCancel(ctx)

	results := make(chan Result, len(job.Bisections))

	for i, b := range job.Bisections {
		if b.DockerBackoff.Retries == 0 {
			b.DockerBackoff = job.DockerBackoff
		}

		job.wg.Add(1)
		go func() {
			defer job.wg.Done()
			results <- job.runBisection(ctx, i, b)
		}()
	}

	go func() {
		job.wg.Wait()
		close(results)
	}()

	return results, nil
}

// runBisection runs a single bisection of the job once the semaphore allows it
func (job *Job) runBisection(ctx context.Context, index int, b Bisection) Result {
	res := Result{
		ID: uniuri.New(),

		BisectionIndex: index,
		Name:           b.Name,
	}
	log := job.Log.WithField("bisection-id", res.ID)

	// Acquire the semaphore with a weight of 1
	if err := job.bisectionSemaphore.Acquire(ctx, 1); err != nil {
		res.Err = err
		return res
	}
	defer job.bisectionSemaphore.Release(1)

	log.Infof("Starting bisection %s of %s and %s", b.Name, b.Reference, b.Candidate)

	pair, closePair, err := b.Open(ctx, log)
	if err != nil {
		res.Err = err
		return res
	}
	defer closePair()

	res.Divergence, res.Err = b.Scan(ctx, pair)
	if res.Err != nil {
		log.Errorf("Bisection %s failed - %v", b.Name, res.Err)
		return res
	}

	if res.Divergence == nil {
		log.Infof("Bisection %s found no divergence", b.Name)
		return res
	}

	log.Infof("Bisection %s found divergence at test %d", b.Name, res.Divergence.Index)
	if job.OutputDir != "" {
		res.ReportPath, err = ArchiveDivergence(job.OutputDir, res.Divergence)
		if err != nil {
			log.Warnf("Failed to archive divergence - %v", err)
		}
	}
	return res
}

// Stop the job, cancelling all running bisections, and wait until they returned.
func (job *Job) Stop() {
	if job.cancel != nil {
		job.cancel()
	}
	job.wg.Wait()
}
