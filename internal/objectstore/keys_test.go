package objectstore_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/stretchr/testify/assert"
)

func TestSourceKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "videos/alice/1700000000123-clip.mp4", objectstore.SourceKey("alice", now, "clip.mp4"))
	assert.Equal(t, "videos/alice/1700000000123-passwd", objectstore.SourceKey("alice", now, "../../etc/passwd"))
	assert.Equal(t, "videos/alice/1700000000123-evil.mp4", objectstore.SourceKey("alice", now, `C:\tmp\evil.mp4`))
	assert.Equal(t, "videos/alice/1700000000123-upload", objectstore.SourceKey("alice", now, ""))
}

func TestOutputKey(t *testing.T) {
	id := uuid.MustParse("22222222-2222-2222-2222-222222222222")
	assert.Equal(t, "processed/bob/22222222-2222-2222-2222-222222222222.mp4", objectstore.OutputKey("bob", id, "mp4"))
	assert.Equal(t, "processed/bob/22222222-2222-2222-2222-222222222222.mpd", objectstore.OutputKey("bob", id, ".mpd"))
}

func TestSegmentKey(t *testing.T) {
	assert.Equal(t, "processed/bob/abc-chunk-0-00001.m4s",
		objectstore.SegmentKey("processed/bob/abc.mpd", "/tmp/ws/abc/out/abc-chunk-0-00001.m4s"))
}

func TestLocationString(t *testing.T) {
	loc := objectstore.Location{Bucket: "videos", Key: "videos/alice/1-clip.mp4"}
	assert.Equal(t, "s3://videos/videos/alice/1-clip.mp4", loc.String())
}
