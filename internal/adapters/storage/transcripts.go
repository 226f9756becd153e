package storage

import (
	"context"
	"strings"
	"time"
)

// TranscriptArchive writes finished call transcripts as UTF-8 text objects.
type TranscriptArchive struct {
	store  StorageService
	bucket string
}

// NewTranscriptArchive stores transcripts in bucket.
func NewTranscriptArchive(store StorageService, bucket string) *TranscriptArchive {
	return &TranscriptArchive{store: store, bucket: bucket}
}

// EnsureBucket creates the transcript bucket when missing.
func (a *TranscriptArchive) EnsureBucket(ctx context.Context) error {
	return a.store.EnsureBucketExists(ctx, a.bucket)
}

// ArchiveTranscript stores text under key.
func (a *TranscriptArchive) ArchiveTranscript(ctx context.Context, key, text string) error {
	return a.store.PutObject(ctx, a.bucket, key, "text/plain; charset=utf-8", strings.NewReader(text), int64(len(text)))
}

// TranscriptURL returns a presigned download URL for a stored transcript.
func (a *TranscriptArchive) TranscriptURL(ctx context.Context, key string) (string, time.Time, error) {
	link, err := a.store.GenerateDownloadURL(ctx, a.bucket, key)
	if err != nil {
		return "", time.Time{}, err
	}
	return link.URL, link.ExpiresAt, nil
}
