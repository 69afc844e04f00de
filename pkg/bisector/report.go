package bisector

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dchest/uniuri"
	"gopkg.in/yaml.v3"
)

// A Divergence represents the first test case at which the oracles of a pair disagree.
type Divergence struct {
	Index int `yaml:"index"` // The first diverging test case

	WindowStart int `yaml:"windowStart"` // The first test case of the range in which the divergence was found
	WindowEnd   int `yaml:"windowEnd"`   // The last test case of the range in which the divergence was found

	Reference string `yaml:"reference"` // The detailed report of the reference oracle for the diverging test case
	Candidate string `yaml:"candidate"` // The detailed report of the candidate oracle for the diverging test case

	ReferenceOracle string `yaml:"referenceOracle"` // The name of the reference oracle
	CandidateOracle string `yaml:"candidateOracle"` // The name of the candidate oracle

	ReferenceDigest string `yaml:"referenceDigest,omitempty"` // The digest of the reference build, if available
	CandidateDigest string `yaml:"candidateDigest,omitempty"` // The digest of the candidate build, if available

	Invocations int `yaml:"invocations"` // How many oracle invocations it took to find this divergence

	Flaky bool `yaml:"flaky"` // Set if one of the oracles produced differing details when rerun
}

// ReportStyle selects the reproduction hint printed by [Divergence.WriteReport]
type ReportStyle int

const (
	// ChunkReport is the report printed after a chunked scan
	ChunkReport ReportStyle = iota
	// FixedReport is the report printed after a fixed range scan
	FixedReport
)

// WriteReport writes the human readable report of the divergence to w
func (d Divergence) WriteReport(w io.Writer, style ReportStyle) error {
	var b strings.Builder

	fmt.Fprintf(&b, "-- ref --\n%s\n", d.Reference)
	fmt.Fprintf(&b, "-- new --\n%s\n", d.Candidate)

	switch style {
	case FixedReport:
		fmt.Fprintf(&b, "\nFailed test number is %d, you can reproduce the problematic conditions\n", d.Index)
		fmt.Fprintf(&b, "by running '%s -%d'\n", d.CandidateOracle, d.Index)
	default:
		fmt.Fprintf(&b, "\nFailed test %d, you can reproduce the problematic conditions by running\n", d.Index)
		fmt.Fprintf(&b, "%s -%d\n", d.CandidateOracle, d.Index)
	}

	if d.Flaky {
		b.WriteString("\nWarning: the oracles are not deterministic, this result may be wrong\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

const archiveExt = ".yml"

// ArchiveDivergence stores the divergence as a yaml document in dir and returns the path of the created file
func ArchiveDivergence(dir string, d *Divergence) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	out, err := yaml.Marshal(d)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "divergence-"+uniuri.New()+archiveExt)
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// ReadArchivedDivergence reads a divergence previously stored by [ArchiveDivergence]
func ReadArchivedDivergence(path string) (*Divergence, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var d Divergence
	if err := yaml.NewDecoder(file).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode archived divergence %s - %v", path, err)
	}
	return &d, nil
}

// ListArchived returns the paths of all divergences archived in dir.
// A missing dir is treated as an empty archive.
func ListArchived(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "divergence-") || filepath.Ext(entry.Name()) != archiveExt {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}
