package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/postpilot/internal/model"
)

var importFiles []string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import collected signals from jsonl, json or yaml files",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("cli"); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		total := 0
		for _, path := range importFiles {
			n, err := newFileCollector(path, st).Collect(ctx)
			if err != nil {
				return err
			}
			total += n
		}

		zap.L().Info("import complete",
			zap.Int("signals", total),
			zap.Strings("files", importFiles),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringSliceVar(&importFiles, "file", nil, "signal file to import (repeatable, required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// signalWriter is the slice of store.Store a fileCollector writes to.
type signalWriter interface {
	UpsertSignals(ctx context.Context, signals []model.Signal) (int, error)
}

// fileCollector loads signals exported by an external harvester.
type fileCollector struct {
	path  string
	store signalWriter
}

func newFileCollector(path string, st signalWriter) *fileCollector {
	return &fileCollector{path: path, store: st}
}

// Name identifies the collector in run errors.
func (c *fileCollector) Name() string {
	return "file:" + filepath.Base(c.path)
}

// Collect parses the file and upserts its signals.
func (c *fileCollector) Collect(ctx context.Context) (int, error) {
	signals, err := readSignalFile(c.path)
	if err != nil {
		return 0, err
	}
	if len(signals) == 0 {
		return 0, nil
	}
	n, err := c.store.UpsertSignals(ctx, signals)
	if err != nil {
		return 0, eris.Wrapf(err, "import %s", c.path)
	}
	return n, nil
}

// readSignalFile decodes signals by extension: .jsonl and .ndjson hold one
// object per line, .json an array, .yaml and .yml a sequence.
func readSignalFile(path string) ([]model.Signal, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read signal file %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return parseJSONLines(data, path)
	case ".json":
		var signals []model.Signal
		if err := json.Unmarshal(data, &signals); err != nil {
			return nil, eris.Wrapf(err, "parse signal file %s", path)
		}
		return signals, nil
	case ".yaml", ".yml":
		var signals []model.Signal
		if err := yaml.Unmarshal(data, &signals); err != nil {
			return nil, eris.Wrapf(err, "parse signal file %s", path)
		}
		return signals, nil
	default:
		return nil, eris.Errorf("unsupported signal file %s: want .jsonl, .json or .yaml", path)
	}
}

func parseJSONLines(data []byte, path string) ([]model.Signal, error) {
	var signals []model.Signal
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var s model.Signal
		if err := json.Unmarshal(text, &s); err != nil {
			return nil, eris.Wrapf(err, "parse %s line %d", path, line)
		}
		signals = append(signals, s)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "scan %s", path)
	}
	return signals, nil
}
