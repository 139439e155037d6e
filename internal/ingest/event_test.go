package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const createdEvent = `{
  "EventName": "s3:ObjectCreated:Put",
  "Key": "uploads/incoming/q4.pdf",
  "Records": [{
    "eventName": "s3:ObjectCreated:Put",
    "s3": {
      "bucket": {"name": "uploads"},
      "object": {"key": "incoming%2Fq4.pdf", "size": 12345, "eTag": "\"abc123\"", "contentType": "application/pdf"}
    }
  }]
}`

func TestParseS3Events_DecodesCreatedRecord(t *testing.T) {
	events, err := ParseS3Events([]byte(createdEvent))
	require.NoError(t, err)
	require.Len(t, events, 1)

	e := events[0]
	assert.True(t, e.Created())
	assert.False(t, e.Removed())
	assert.Equal(t, "uploads", e.Bucket)
	assert.Equal(t, "incoming/q4.pdf", e.Key, "keys arrive URL-encoded")
	assert.Equal(t, "q4.pdf", e.Filename())
	assert.Equal(t, int64(12345), e.Size)
	assert.Equal(t, "abc123", e.ETag, "etag quotes stripped")
}

func TestParseS3Events_RemovedRecord(t *testing.T) {
	body := `{"Records":[{"eventName":"s3:ObjectRemoved:Delete","s3":{"bucket":{"name":"uploads"},"object":{"key":"q4.pdf"}}}]}`

	events, err := ParseS3Events([]byte(body))
	require.NoError(t, err)

	assert.True(t, events[0].Removed())
	assert.False(t, events[0].Created())
}

func TestParseS3Events_FallsBackToTopLevelEventName(t *testing.T) {
	body := `{"EventName":"s3:ObjectCreated:Put","Records":[{"s3":{"bucket":{"name":"uploads"},"object":{"key":"a.pdf"}}}]}`

	events, err := ParseS3Events([]byte(body))
	require.NoError(t, err)

	assert.True(t, events[0].Created())
}

func TestParseS3Events_RejectsBadBodies(t *testing.T) {
	cases := []string{
		`not json`,
		`{}`,
		`{"Records":[]}`,
		`{"Records":[{"s3":{"bucket":{"name":""},"object":{"key":"a.pdf"}}}]}`,
		`{"EventName":"s3:ObjectCreated:Put","Records":[{"s3":{"bucket":{"name":"b"},"object":{"key":""}}}]}`,
	}

	for _, body := range cases {
		_, err := ParseS3Events([]byte(body))
		assert.Equal(t, amerrors.ErrCodeInvalidInput, amerrors.GetCode(err), body)
	}
}
