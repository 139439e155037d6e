package ingest

import (
	"encoding/json"
	"net/url"
	"strings"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// ObjectEvent is one normalised object-store notification.
type ObjectEvent struct {
	EventName   string
	Bucket      string
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// Created reports whether the event is an object creation.
func (e ObjectEvent) Created() bool {
	return strings.HasPrefix(e.EventName, "s3:ObjectCreated:")
}

// Removed reports whether the event is an object removal.
func (e ObjectEvent) Removed() bool {
	return strings.HasPrefix(e.EventName, "s3:ObjectRemoved:")
}

// Filename returns the key's basename as the original upload name.
func (e ObjectEvent) Filename() string {
	if i := strings.LastIndex(e.Key, "/"); i >= 0 {
		return e.Key[i+1:]
	}
	return e.Key
}

// s3Notification mirrors the S3-compatible webhook body. MinIO/RustFS
// style brokers send top-level EventName/Key plus the Records array;
// plain S3 sends Records only.
type s3Notification struct {
	EventName string `json:"EventName"`
	Key       string `json:"Key"`
	Records   []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key         string `json:"key"`
				Size        int64  `json:"size"`
				ETag        string `json:"eTag"`
				ContentType string `json:"contentType"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseS3Events decodes a webhook body into normalised events. Object
// keys arrive URL-encoded in Records; they are decoded here so the rest
// of the pipeline sees real names.
func ParseS3Events(body []byte) ([]ObjectEvent, error) {
	var note s3Notification
	if err := json.Unmarshal(body, &note); err != nil {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "malformed event notification", err)
	}

	if len(note.Records) == 0 {
		return nil, amerrors.New(amerrors.ErrCodeInvalidInput, "event notification carries no records", nil)
	}

	out := make([]ObjectEvent, 0, len(note.Records))
	for _, rec := range note.Records {
		eventName := rec.EventName
		if eventName == "" {
			eventName = note.EventName
		}
		key := rec.S3.Object.Key
		if decoded, err := url.QueryUnescape(key); err == nil {
			key = decoded
		}
		if key == "" || rec.S3.Bucket.Name == "" || eventName == "" {
			return nil, amerrors.New(amerrors.ErrCodeInvalidInput,
				"event record is missing bucket, key, or event name", nil)
		}
		out = append(out, ObjectEvent{
			EventName:   eventName,
			Bucket:      rec.S3.Bucket.Name,
			Key:         key,
			Size:        rec.S3.Object.Size,
			ETag:        strings.Trim(rec.S3.Object.ETag, `"`),
			ContentType: rec.S3.Object.ContentType,
		})
	}
	return out, nil
}
