package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildIndexName(t *testing.T) {
	assert.Equal(t, "logdata_0", BuildIndexName("logdata", 0))
	assert.Equal(t, "logdata_17", BuildIndexName("logdata", 17))
	assert.Equal(t, "some_prefix_3", BuildIndexName("some_prefix", 3))
}

func TestBuildAliasName(t *testing.T) {
	assert.Equal(t, "logdata_deflector", BuildAliasName("logdata"))
	assert.Equal(t, "some_prefix_deflector", BuildAliasName("some_prefix"))
}

func TestExtractIndexNumber(t *testing.T) {
	tests := []struct {
		name    string
		index   string
		want    int
		wantErr bool
	}{
		{"simple", "logdata_0", 0, false},
		{"larger number", "logdata_4711", 4711, false},
		{"prefix with separator", "some_long_prefix_23", 23, false},
		{"alias name", "logdata_deflector", 0, true},
		{"no number", "logdata", 0, true},
		{"trailing text", "logdata_1a", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractIndexNumber(tt.index)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsManagedIndex(t *testing.T) {
	tests := []struct {
		name  string
		index string
		want  bool
	}{
		{"numbered index", "logdata_1", true},
		{"high number", "logdata_42", true},
		{"the alias itself", "logdata_deflector", false},
		{"other prefix", "other_9", false},
		{"bare prefix", "logdata", false},
		{"prefix of the prefix", "gray_1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsManagedIndex("logdata", tt.index))
		})
	}
}
