package logrelay

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"forged/pkg/s3"
	"forged/pkg/stream"
)

// Archiver moves a finished build's output list into long-term object
// storage as compressed NDJSON and frees the Redis list.
type Archiver struct {
	lists  stream.Store
	blobs  *s3.Client
	bucket string
}

// NewArchiver creates an Archiver writing into the given bucket.
func NewArchiver(lists stream.Store, blobs *s3.Client, bucket string) (*Archiver, error) {
	if lists == nil {
		return nil, errors.New("list store is required")
	}
	if blobs == nil {
		return nil, errors.New("object store client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{lists: lists, blobs: blobs, bucket: bucket}, nil
}

// ArchiveKey is the object key holding a build's archived log.
func ArchiveKey(buildID int64) string {
	return fmt.Sprintf("logs/%d.ndjson.zst", buildID)
}

// Archive uploads the build's full output list and deletes it from the live
// store on success. A build with no output is a no-op.
func (a *Archiver) Archive(ctx context.Context, buildID int64) error {
	key := stream.BuildOutputKey(buildID)
	records, err := a.lists.Range(ctx, key, 0, -1)
	if err != nil {
		return fmt.Errorf("read output for build %d: %w", buildID, err)
	}
	if len(records) == 0 {
		return nil
	}

	var raw bytes.Buffer
	for _, rec := range records {
		raw.Write(rec)
		raw.WriteByte('\n')
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return err
	}
	if _, err := enc.Write(raw.Bytes()); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	digest := sha256.Sum256(compressed.Bytes())
	objectKey := ArchiveKey(buildID)
	err = a.blobs.PutObject(ctx, a.bucket, objectKey,
		bytes.NewReader(compressed.Bytes()), int64(compressed.Len()), hex.EncodeToString(digest[:]))
	if err != nil {
		return fmt.Errorf("upload archive for build %d: %w", buildID, err)
	}

	return a.lists.Trim(ctx, key)
}
