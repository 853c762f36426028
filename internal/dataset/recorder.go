// Package dataset appends labeled bone-vector samples to a training file.
//
// The file is plain text. On creation it receives a verbatim copy of a header
// template. Each record after that is one line:
//
//	x:y:z,x:y:z,...,label\n
//
// with one x:y:z field per bone in skeleton.DefaultBones order.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/ayusman/skeletrain/internal/skeleton"
)

var (
	// ErrInvalidLabel is returned for empty labels or labels containing a delimiter.
	ErrInvalidLabel = errors.New("invalid sample label")
	// ErrEmptySample is returned when there are no bone vectors to record.
	ErrEmptySample = errors.New("empty sample")
)

// Default file locations.
const (
	DefaultPath       = "output.arff"
	DefaultHeaderPath = "header.txt"
)

// Config holds configuration options for the Recorder.
type Config struct {
	// Path is the dataset file samples are appended to.
	Path string
	// HeaderPath is the template copied into Path when it is first created.
	HeaderPath string
}

// DefaultConfig returns the default file locations.
func DefaultConfig() Config {
	return Config{
		Path:       DefaultPath,
		HeaderPath: DefaultHeaderPath,
	}
}

// Recorder appends samples to the dataset file. It is safe for concurrent use;
// records from concurrent calls never interleave.
type Recorder struct {
	config Config
	mu     sync.Mutex
	count  int
}

// NewRecorder creates a Recorder. Empty config fields take their defaults.
func NewRecorder(config Config) *Recorder {
	def := DefaultConfig()
	if config.Path == "" {
		config.Path = def.Path
	}
	if config.HeaderPath == "" {
		config.HeaderPath = def.HeaderPath
	}
	return &Recorder{config: config}
}

// Path returns the dataset file path.
func (r *Recorder) Path() string {
	return r.config.Path
}

// Count returns the number of samples recorded by this Recorder.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// ValidateLabel reports whether label can be stored in a record.
func ValidateLabel(label string) error {
	if label == "" || strings.ContainsAny(label, ",\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return nil
}

// FormatRecord returns the line for one sample, including the trailing newline.
func FormatRecord(label string, set skeleton.BoneVectorSet) (string, error) {
	if err := ValidateLabel(label); err != nil {
		return "", err
	}
	if len(set) == 0 {
		return "", ErrEmptySample
	}

	var sb strings.Builder
	for _, f := range set.Fields() {
		sb.WriteString(f)
		sb.WriteByte(',')
	}
	sb.WriteString(label)
	sb.WriteByte('\n')
	return sb.String(), nil
}

// Record appends one labeled sample. If the dataset file does not exist it
// is created with the header template first. On error nothing is appended.
func (r *Recorder) Record(label string, set skeleton.BoneVectorSet) error {
	line, err := FormatRecord(label, set)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.appendLine(line); err != nil {
		return err
	}

	r.count++
	log.Printf("Recorded %s", strings.TrimSuffix(line, "\n"))
	return nil
}

func (r *Recorder) appendLine(line string) error {
	_, err := os.Stat(r.config.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return r.create(line)
	}
	if err != nil {
		return fmt.Errorf("stat dataset: %w", err)
	}

	f, err := os.OpenFile(r.config.Path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close dataset: %w", err)
	}
	return nil
}

func (r *Recorder) create(line string) error {
	header, err := os.ReadFile(r.config.HeaderPath)
	if err != nil {
		return fmt.Errorf("read header template: %w", err)
	}

	f, err := os.OpenFile(r.config.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create dataset: %w", err)
	}

	content := make([]byte, 0, len(header)+len(line))
	content = append(content, header...)
	content = append(content, line...)

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(r.config.Path)
		return fmt.Errorf("write dataset: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(r.config.Path)
		return fmt.Errorf("close dataset: %w", err)
	}

	log.Printf("Created dataset %s from %s", r.config.Path, r.config.HeaderPath)
	return nil
}
