// ABOUTME: Tests for the tagged intake envelope.
// ABOUTME: Checks dispatch on vuln_type, null payloads and the record id and createdAt accessors.

package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputRecordUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		verify  func(t *testing.T, r InputRecord)
		wantErr error
	}{
		{
			name:  "git",
			input: `{"vuln_type":"git","vuln_data":{"id":"v1","uid":"g1","repositoryName":"repoA","securityAdvisory":{"cveId":"CVE-1"}}}`,
			verify: func(t *testing.T, r InputRecord) {
				require.NotNil(t, r.Git)
				assert.Nil(t, r.AWS)
				assert.Nil(t, r.AWSV2)
				assert.Equal(t, "repoA", r.Git.RepositoryName)
				assert.Equal(t, "CVE-1", r.Git.SecurityAdvisory.CveID)
				assert.Equal(t, "v1", r.ID())
			},
		},
		{
			name:  "aws v1 findings",
			input: `{"vuln_type":"aws","vuln_data":{"uid":"a1","imageTags":["latest"],"findings":[{"name":"CVE-2 x"},{"name":"CVE-3 y"}],"createdAt":"2024-05-01T00:00:00Z"}}`,
			verify: func(t *testing.T, r InputRecord) {
				require.NotNil(t, r.AWS)
				assert.Len(t, r.AWS.Findings, 2)
				assert.Equal(t, "2024-05-01T00:00:00Z", r.CreatedAt())
			},
		},
		{
			name:  "aws v2 ignored",
			input: `{"vuln_type":"awsv2","vuln_data":{"uid":"b1","severity":"HIGH","ignored":{"ignoreReason":"accepted risk"}}}`,
			verify: func(t *testing.T, r InputRecord) {
				require.NotNil(t, r.AWSV2)
				require.NotNil(t, r.AWSV2.Ignored)
				assert.Equal(t, "accepted risk", r.AWSV2.Ignored.IgnoreReason)
			},
		},
		{
			name:  "null payload keeps an empty variant",
			input: `{"vuln_type":"git","vuln_data":null}`,
			verify: func(t *testing.T, r InputRecord) {
				require.NotNil(t, r.Git)
				assert.Empty(t, r.Git.UID)
				assert.Empty(t, r.ID())
			},
		},
		{
			name:    "unknown type",
			input:   `{"vuln_type":"gcp","vuln_data":{}}`,
			wantErr: ErrUnknownVulnType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r InputRecord
			err := json.Unmarshal([]byte(tt.input), &r)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			tt.verify(t, r)
		})
	}
}

func TestInputRecordMalformedData(t *testing.T) {
	var r InputRecord
	err := json.Unmarshal([]byte(`{"vuln_type":"aws","vuln_data":{"findings":"oops"}}`), &r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode aws vuln_data")
}

func TestInputRecordMarshalEnvelope(t *testing.T) {
	record := NewAWSV2Record(&AWSV2Vulnerability{UID: "b1", Severity: "LOW"})

	data, err := json.Marshal(record)
	require.NoError(t, err)
	assert.JSONEq(t, `{"vuln_type":"awsv2","vuln_data":{"uid":"b1","severity":"LOW"}}`, string(data))

	_, err = json.Marshal(InputRecord{Type: "gcp"})
	assert.True(t, errors.Is(err, ErrUnknownVulnType))
}

func TestDestinationModels(t *testing.T) {
	models := DestinationModels()
	assert.Len(t, models, 6)
	assert.Contains(t, models, DestinationModel("sec_Vulnerability"))
	assert.Contains(t, models, DestinationModel("cicd_ArtifactVulnerability"))
}
