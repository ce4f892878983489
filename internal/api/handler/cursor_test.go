package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scoutbase/scraperd/internal/scrape/storage"
)

func TestJobCursorRoundTrip(t *testing.T) {
	in := &storage.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 30, 0, 123456789, time.UTC),
		JobID:     "7f8c9f1e-2f4b-4a8a-9a10-6a40a2a54d3b",
	}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, in.JobID, out.JobID)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestDecodeJobCursor(t *testing.T) {
	tests := []struct {
		name    string
		cursor  string
		wantErr bool
		wantNil bool
	}{
		{
			name:    "empty cursor means first page",
			cursor:  "",
			wantNil: true,
		},
		{
			name:    "not base64",
			cursor:  "%%%",
			wantErr: true,
		},
		{
			name:    "missing separator",
			cursor:  base64.StdEncoding.EncodeToString([]byte("1234567890")),
			wantErr: true,
		},
		{
			name:    "non numeric timestamp",
			cursor:  base64.StdEncoding.EncodeToString([]byte("abc|some-job-id")),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeJobCursor(tt.cursor)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}
