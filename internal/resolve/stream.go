package resolve

import (
	"context"
	"fmt"
	"io"

	"github.com/bulkimport/bulkimport/internal/repository"
)

// Opener streams a remote file reference.
type Opener interface {
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Streamer opens validated files for upload, dispatching on their origin.
type Streamer struct {
	URL     Opener
	S3      Opener
	GCS     Opener
	Buckets repository.BucketService
}

// Open returns the content of f. Local files are read from bucketID.
func (s *Streamer) Open(ctx context.Context, f ValidatedFile, bucketID string) (io.ReadCloser, error) {
	var opener Opener
	switch f.Origin {
	case OriginLocal:
		if s.Buckets == nil {
			return nil, fmt.Errorf("no bucket service configured for local file %s", f.Key)
		}
		return s.Buckets.OpenObject(ctx, bucketID, f.FullPath)
	case OriginURL:
		opener = s.URL
	case OriginS3:
		opener = s.S3
	case OriginGCS:
		opener = s.GCS
	}
	if opener == nil {
		return nil, fmt.Errorf("no opener configured for %s file %s", f.Origin, f.Key)
	}
	return opener.Open(ctx, f.FullPath)
}
