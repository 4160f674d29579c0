package objectstore

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKey is where an uploaded original is stored.
func SourceKey(owner string, now time.Time, name string) string {
	return fmt.Sprintf("videos/%s/%d-%s", owner, now.UnixMilli(), cleanName(name))
}

// OutputKey is where a job's output (or manifest) is stored.
func OutputKey(owner string, jobID uuid.UUID, ext string) string {
	return fmt.Sprintf("processed/%s/%s.%s", owner, jobID, strings.TrimPrefix(ext, "."))
}

// SegmentKey places a segment file under the same prefix as its manifest, so
// relative references inside the manifest resolve.
func SegmentKey(outputKey, fileName string) string {
	return path.Join(path.Dir(outputKey), path.Base(fileName))
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
