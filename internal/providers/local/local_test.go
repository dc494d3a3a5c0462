// ABOUTME: Tests for the local file-based record source.
// ABOUTME: Tests JSON array and JSON lines parsing plus file errors.

package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

func TestLocalSourceName(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	source := NewLocalSource("test.json", logger)

	if source.Name() != "local" {
		t.Errorf("Expected name 'local', got '%s'", source.Name())
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedTypes []types.VulnType
		expectSkipped int
		expectError   bool
	}{
		{
			name:          "json array",
			content:       `[{"vuln_type":"git","vuln_data":{"uid":"g1"}},{"vuln_type":"awsv2","vuln_data":{"uid":"v1"}}]`,
			expectedTypes: []types.VulnType{types.VulnTypeGit, types.VulnTypeAWSV2},
		},
		{
			name: "json lines",
			content: `{"vuln_type":"aws","vuln_data":{"uid":"a1","findings":[{"name":"CVE-1"}]}}
{"vuln_type":"git","vuln_data":{"uid":"g1"}}
`,
			expectedTypes: []types.VulnType{types.VulnTypeAWS, types.VulnTypeGit},
		},
		{
			name:          "leading whitespace array",
			content:       "\n  [ {\"vuln_type\":\"git\",\"vuln_data\":{}} ]",
			expectedTypes: []types.VulnType{types.VulnTypeGit},
		},
		{
			name:    "empty file",
			content: "   \n",
		},
		{
			name: "unknown vuln type skipped in json lines",
			content: `{"vuln_type":"gcp","vuln_data":{}}
{"vuln_type":"git","vuln_data":{"uid":"g1"}}
`,
			expectedTypes: []types.VulnType{types.VulnTypeGit},
			expectSkipped: 1,
		},
		{
			name:          "unknown vuln type skipped in json array",
			content:       `[{"vuln_type":"gcp","vuln_data":{}},{"vuln_type":"awsv2","vuln_data":{"uid":"v1"}},{"vuln_type":""}]`,
			expectedTypes: []types.VulnType{types.VulnTypeAWSV2},
			expectSkipped: 2,
		},
		{
			name:        "malformed vuln data",
			content:     `[{"vuln_type":"aws","vuln_data":{"findings":"oops"}}]`,
			expectError: true,
		},
		{
			name:        "malformed json",
			content:     `{"vuln_type":`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, skipped, err := Decode(context.Background(), strings.NewReader(tt.content))
			if tt.expectError {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if skipped != tt.expectSkipped {
				t.Errorf("Expected %d skipped records, got %d", tt.expectSkipped, skipped)
			}
			if len(records) != len(tt.expectedTypes) {
				t.Fatalf("Expected %d records, got %d", len(tt.expectedTypes), len(records))
			}
			for i, r := range records {
				if r.Type != tt.expectedTypes[i] {
					t.Errorf("record %d: expected type %s, got %s", i, tt.expectedTypes[i], r.Type)
				}
			}
		})
	}
}

func TestDecodeOnlyUnknownTypes(t *testing.T) {
	records, skipped, err := Decode(context.Background(), strings.NewReader(`[{"vuln_type":"gcp","vuln_data":{}}]`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 0 || skipped != 1 {
		t.Errorf("Expected no records and 1 skipped, got %d records and %d skipped", len(records), skipped)
	}
}

func TestLocalSourceReadRecords(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	path := filepath.Join(t.TempDir(), "vanta.jsonl")
	content := `{"vuln_type":"git","vuln_data":{"id":"rec-1","uid":"g1","repositoryName":"repoA"}}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	records, err := NewLocalSource(path, logger).ReadRecords(context.Background())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Git == nil || records[0].Git.RepositoryName != "repoA" {
		t.Fatalf("Unexpected records: %+v", records)
	}
	if records[0].ID() != "rec-1" {
		t.Errorf("Expected id rec-1, got %s", records[0].ID())
	}
}

func TestLocalSourceFileErrors(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	_, err := NewLocalSource(filepath.Join(t.TempDir(), "missing.json"), logger).ReadRecords(context.Background())
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to open input file") {
		t.Errorf("Unexpected error message: %v", err)
	}
}

func TestDecodeContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Decode(ctx, strings.NewReader(`{"vuln_type":"git","vuln_data":{}}`))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
