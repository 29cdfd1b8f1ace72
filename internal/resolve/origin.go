// Package resolve checks the files and communities an import row refers to
// before anything is written to the repository platform.
package resolve

import (
	"net/url"
	"path"
	"strings"
)

// Origin is where a referenced file lives.
type Origin string

const (
	OriginLocal Origin = "local"
	OriginURL   Origin = "url"
	OriginS3    Origin = "s3"
	OriginGCS   Origin = "gs"
)

// ValidatedFile is a file reference confirmed to exist and be readable.
type ValidatedFile struct {
	Key      string `json:"key"`
	FullPath string `json:"full_path"`
	Size     int64  `json:"size"`
	Origin   Origin `json:"origin"`
}

// ClassifyOrigin tells where a file reference points to.
func ClassifyOrigin(ref string) Origin {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return OriginURL
	case strings.HasPrefix(ref, "s3:"):
		return OriginS3
	case strings.HasPrefix(ref, "gs:"):
		return OriginGCS
	default:
		return OriginLocal
	}
}

// SplitObjectRef splits "s3://bucket/dir/key" or "gs://bucket/key" into the
// bucket and the object key.
func SplitObjectRef(ref string) (bucket, key string) {
	rest := ref
	if i := strings.Index(rest, ":"); i >= 0 {
		rest = rest[i+1:]
	}
	rest = strings.TrimLeft(rest, "/")
	bucket, key, _ = strings.Cut(rest, "/")
	return bucket, key
}

// FileKey returns the file name a reference is stored under in a record.
func FileKey(ref string) string {
	switch ClassifyOrigin(ref) {
	case OriginURL:
		if u, err := url.Parse(ref); err == nil && u.Path != "" && u.Path != "/" {
			return path.Base(u.Path)
		}
		return ref
	case OriginS3, OriginGCS:
		_, key := SplitObjectRef(ref)
		if key == "" {
			return ref
		}
		return path.Base(key)
	default:
		return ref
	}
}
