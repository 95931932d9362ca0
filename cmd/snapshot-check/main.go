// Command snapshot-check validates a wire document read from a file, stdin
// or a configured snapshot archive. It reports duplicate identities and
// references to objects the document does not contain.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"objectcore/internal/archive"
	"objectcore/internal/observability"
	"objectcore/pkg/serialization"
)

// Violation kinds.
const (
	KindInvalidID          = "invalid_id"
	KindDuplicateID        = "duplicate_id"
	KindMalformedReference = "malformed_reference"
	KindDanglingReference  = "dangling_reference"
)

// Violation is one finding. Index is the descriptor position in the document.
type Violation struct {
	Index  int    `json:"index"`
	Kind   string `json:"kind"`
	Type   string `json:"type"`
	ID     uint32 `json:"id,omitempty"`
	Detail string `json:"detail"`
}

// Report summarizes a checked document.
type Report struct {
	Source     string         `json:"source"`
	Objects    int            `json:"objects"`
	Types      map[string]int `json:"types"`
	Violations []Violation    `json:"violations,omitempty"`
}

// OK reports whether the document has no violations.
func (r Report) OK() bool { return len(r.Violations) == 0 }

const (
	formatText = "text"
	formatJSON = "json"
)

var (
	exitFunc    = os.Exit
	openArchive = func(ctx context.Context, configPath string) (archive.Archive, error) {
		if configPath == "" {
			return archive.OpenFromEnv(ctx)
		}
		cfg, err := archive.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		return archive.Open(ctx, cfg)
	}
)

func main() {
	code := cli(os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	file       string
	name       string
	configPath string
	format     string
	logLevel   string
	timeout    time.Duration
}

func cli(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("snapshot-check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.file, "file", "", "path to a wire document, - for stdin")
	fs.StringVar(&opts.name, "archive", "", "name of an archived snapshot")
	fs.StringVar(&opts.configPath, "config", "", "archive config yaml (default: OBJECTCORE_ARCHIVE_* env)")
	fs.StringVar(&opts.format, "format", formatText, "output format: text or json")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "archive read timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (opts.file == "") == (opts.name == "") {
		fmt.Fprintln(stderr, "exactly one of -file or -archive is required")
		return 2
	}
	if opts.format != formatText && opts.format != formatJSON {
		fmt.Fprintf(stderr, "unknown format %q\n", opts.format)
		return 2
	}
	logger, err := observability.NewSlogLogger(observability.LogConfig{Level: opts.logLevel, Format: "text", Output: stderr})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	report, err := run(opts, stdin, logger)
	if err != nil {
		if _, writeErr := fmt.Fprintf(stderr, "Snapshot validation failed: %v\n", err); writeErr != nil {
			return 1
		}
		return 1
	}
	if err := writeReport(stdout, opts.format, report); err != nil {
		return 1
	}
	if !report.OK() {
		return 1
	}
	return 0
}

func run(opts options, stdin io.Reader, logger observability.Logger) (Report, error) {
	data, source, err := readDocument(opts, stdin)
	if err != nil {
		return Report{}, err
	}
	logger.Debug("document read", "source", source, "bytes", len(data))
	doc, err := serialization.Parse(data)
	if err != nil {
		return Report{}, fmt.Errorf("parse %s: %w", source, err)
	}
	report := Check(doc)
	report.Source = source
	if !report.OK() {
		logger.Warn("document has violations", "source", source, "count", len(report.Violations))
	}
	return report, nil
}

func readDocument(opts options, stdin io.Reader) ([]byte, string, error) {
	if opts.name != "" {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		arch, err := openArchive(ctx, opts.configPath)
		if err != nil {
			return nil, "", fmt.Errorf("open archive: %w", err)
		}
		_, rc, err := arch.Get(ctx, opts.name)
		if err != nil {
			return nil, "", err
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, "", fmt.Errorf("read snapshot %s: %w", opts.name, err)
		}
		return data, fmt.Sprintf("%s:%s", arch.Driver(), opts.name), nil
	}
	if opts.file == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, "", fmt.Errorf("read stdin: %w", err)
		}
		return data, "stdin", nil
	}
	safePath, err := validatePath(opts.file)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(safePath) // #nosec G304: path validated by validatePath
	if err != nil {
		return nil, "", fmt.Errorf("read document: %w", err)
	}
	return data, safePath, nil
}

// validatePath rejects empty paths and paths that step out through "..".
func validatePath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("empty path")
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return "", fmt.Errorf("path traversal not allowed: %s", p)
		}
	}
	return filepath.Clean(p), nil
}

type identity struct {
	typ string
	id  uint32
}

// Check inspects a parsed document for identity and reference violations.
func Check(doc serialization.Document) Report {
	report := Report{Objects: len(doc), Types: make(map[string]int)}
	seen := make(map[identity]int, len(doc))
	for i, obj := range doc {
		report.Types[obj.ObjectType]++
		id, err := obj.ID()
		if err != nil {
			report.Violations = append(report.Violations, Violation{Index: i, Kind: KindInvalidID, Type: obj.ObjectType, Detail: err.Error()})
			continue
		}
		key := identity{typ: obj.ObjectType, id: id}
		if first, dup := seen[key]; dup {
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: KindDuplicateID, Type: obj.ObjectType, ID: id,
				Detail: fmt.Sprintf("%s#%d already declared by object %d", obj.ObjectType, id, first),
			})
			continue
		}
		seen[key] = i
	}
	for i, obj := range doc {
		id, _ := obj.ID()
		refs, err := obj.References()
		if err != nil {
			report.Violations = append(report.Violations, Violation{Index: i, Kind: KindMalformedReference, Type: obj.ObjectType, ID: id, Detail: err.Error()})
			continue
		}
		for _, ref := range refs {
			if _, ok := seen[identity{typ: ref.ObjectType, id: ref.ID}]; ok {
				continue
			}
			report.Violations = append(report.Violations, Violation{
				Index: i, Kind: KindDanglingReference, Type: obj.ObjectType, ID: id,
				Detail: fmt.Sprintf("references %s#%d which the document does not contain", ref.ObjectType, ref.ID),
			})
		}
	}
	sort.SliceStable(report.Violations, func(a, b int) bool {
		return report.Violations[a].Index < report.Violations[b].Index
	})
	return report
}

func writeReport(w io.Writer, format string, report Report) error {
	if format == formatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	types := make([]string, 0, len(report.Types))
	for t := range report.Types {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, v := range report.Violations {
		if _, err := fmt.Fprintf(w, "object %d (%s): %s: %s\n", v.Index, v.Type, v.Kind, v.Detail); err != nil {
			return err
		}
	}
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = fmt.Sprintf("%s=%d", t, report.Types[t])
	}
	status := "passed"
	if !report.OK() {
		status = fmt.Sprintf("failed with %d violation(s)", len(report.Violations))
	}
	_, err := fmt.Fprintf(w, "Snapshot validation %s: %s, %d objects [%s]\n", status, report.Source, report.Objects, strings.Join(parts, " "))
	return err
}
