package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bulkimport/bulkimport/internal/importerr"
	"github.com/bulkimport/bulkimport/internal/repository"
)

// ErrObjectNotFound is returned by checkers when the object does not exist.
var ErrObjectNotFound = errors.New("object does not exist")

// StatusError is a provider failure carrying the provider status code.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status code %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Checker stats a remote file reference and returns its size. Sizes may be
// -1 when the provider does not report one.
type Checker interface {
	Stat(ctx context.Context, ref string) (int64, error)
}

// FileResolverConfig wires the origin checkers.
type FileResolverConfig struct {
	URL     Checker
	S3      Checker
	GCS     Checker
	Buckets repository.BucketService
	// CheckTimeout bounds each remote check.
	// Default: 10 seconds
	CheckTimeout time.Duration
	Logger       zerolog.Logger
}

// FileResolver validates file references against their origin.
type FileResolver struct {
	cfg FileResolverConfig
}

// NewFileResolver creates a file resolver.
func NewFileResolver(cfg FileResolverConfig) *FileResolver {
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	return &FileResolver{cfg: cfg}
}

// Resolve checks every reference and returns the validated files together
// with one error per unusable reference. The bucket of the import task is
// listed at most once.
func (r *FileResolver) Resolve(ctx context.Context, refs []string, bucketID string) ([]ValidatedFile, importerr.List) {
	var (
		files   []ValidatedFile
		errs    importerr.List
		listing map[string]int64
		listErr error
		listed  bool
	)

	for _, ref := range refs {
		origin := ClassifyOrigin(ref)
		if origin == OriginLocal {
			if !listed {
				listing, listErr = r.list(ctx, bucketID)
				listed = true
			}
			if listErr != nil {
				errs.Addf(importerr.TypeFileNotAccessible, "files", "Error listing files of bucket '%s': %v", bucketID, listErr)
				continue
			}
			size, ok := listing[ref]
			if !ok {
				errs.Addf(importerr.TypeFileNotFound, "files", "File '%s' not found in bucket.", ref)
				continue
			}
			files = append(files, ValidatedFile{Key: ref, FullPath: ref, Size: size, Origin: origin})
			continue
		}

		size, err := r.stat(ctx, origin, ref)
		if err != nil {
			r.cfg.Logger.Debug().Err(err).Str("file", ref).Str("origin", string(origin)).Msg("file check failed")
			errs.Add(importerr.TypeFileNotAccessible, "files", checkMessage(origin, ref, err))
			continue
		}
		files = append(files, ValidatedFile{Key: FileKey(ref), FullPath: ref, Size: size, Origin: origin})
	}

	return files, errs
}

func (r *FileResolver) list(ctx context.Context, bucketID string) (map[string]int64, error) {
	if r.cfg.Buckets == nil || bucketID == "" {
		return map[string]int64{}, nil
	}
	objects, err := r.cfg.Buckets.ListObjects(ctx, bucketID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return map[string]int64{}, nil
		}
		return nil, err
	}
	out := make(map[string]int64, len(objects))
	for _, o := range objects {
		out[o.Key] = o.Size
	}
	return out, nil
}

func (r *FileResolver) stat(ctx context.Context, origin Origin, ref string) (int64, error) {
	var checker Checker
	switch origin {
	case OriginURL:
		checker = r.cfg.URL
	case OriginS3:
		checker = r.cfg.S3
	case OriginGCS:
		checker = r.cfg.GCS
	}
	if checker == nil {
		return 0, fmt.Errorf("no checker configured for %s files", origin)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.CheckTimeout)
	defer cancel()
	return checker.Stat(ctx, ref)
}

func checkMessage(origin Origin, ref string, err error) string {
	switch origin {
	case OriginURL:
		var se *StatusError
		if errors.As(err, &se) {
			return fmt.Sprintf("Error accessing URL file '%s' returned status code %d.", ref, se.StatusCode)
		}
		return fmt.Sprintf("Error accessing URL file '%s': %v", ref, err)
	case OriginS3:
		return fmt.Sprintf("Error accessing S3 file '%s': %v", ref, err)
	case OriginGCS:
		if errors.Is(err, ErrObjectNotFound) {
			return fmt.Sprintf("Error accessing GCS file '%s' does not exist.", ref)
		}
		return fmt.Sprintf("Error accessing GCS file '%s': %v", ref, err)
	default:
		return fmt.Sprintf("Error accessing file '%s': %v", ref, err)
	}
}
