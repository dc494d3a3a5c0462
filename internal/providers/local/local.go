// ABOUTME: Local file-based record source for Vanta vulnerability exports.
// ABOUTME: Reads {vuln_type, vuln_data} envelopes from a JSON array or a JSON lines file.

package local

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// LocalSource implements RecordSource over an export file
type LocalSource struct {
	inputFile string
	logger    *logrus.Logger
}

// NewLocalSource creates a new file-based record source
func NewLocalSource(inputFile string, logger *logrus.Logger) *LocalSource {
	return &LocalSource{
		inputFile: inputFile,
		logger:    logger,
	}
}

// Name returns the source name
func (l *LocalSource) Name() string {
	return "local"
}

// ReadRecords decodes every envelope in the input file
func (l *LocalSource) ReadRecords(ctx context.Context) ([]types.InputRecord, error) {
	logger := l.logger.WithFields(logrus.Fields{
		"operation": "read_records_local",
		"file":      l.inputFile,
	})

	f, err := os.Open(l.inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file '%s': %w", l.inputFile, err)
	}
	defer f.Close()

	records, skipped, err := Decode(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse input file '%s': %w", l.inputFile, err)
	}
	if skipped > 0 {
		logger.WithField("skipped_count", skipped).Warn("Skipped records with unknown vuln_type")
	}

	logger.WithField("record_count", len(records)).Info("Read Vanta records from file")
	return records, nil
}

// Decode reads envelopes from r. A leading '[' selects array mode, anything else is a stream of objects.
// Envelopes with an unknown vuln_type are skipped and counted in the second return value.
func Decode(ctx context.Context, r io.Reader) ([]types.InputRecord, int, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if errors.Is(err, io.EOF) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}

	var (
		records []types.InputRecord
		skipped int
	)
	add := func(raw json.RawMessage, n int) error {
		var record types.InputRecord
		err := json.Unmarshal(raw, &record)
		if errors.Is(err, types.ErrUnknownVulnType) {
			skipped++
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: %w", n, err)
		}
		records = append(records, record)
		return nil
	}

	dec := json.NewDecoder(br)
	if first == '[' {
		var raws []json.RawMessage
		if err := dec.Decode(&raws); err != nil {
			return nil, 0, err
		}
		for i, raw := range raws {
			if err := add(raw, i+1); err != nil {
				return nil, 0, err
			}
		}
		return records, skipped, nil
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			return records, skipped, nil
		}
		if err != nil {
			return nil, 0, fmt.Errorf("record %d: %w", n, err)
		}
		if err := add(raw, n); err != nil {
			return nil, 0, err
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
