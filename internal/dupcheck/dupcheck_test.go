package dupcheck

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirstSeenAlwaysWarnAndSend(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(0, 0)
	got := s.Check(1, CRC32, Digest(CRC32, []byte("report.csv")), PolicyDelete, now)
	assert.Equal(t, WarnAndSend, got)
}

func TestSecondSeenWithinTTLUsesPolicy(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(0, 0)
	digest := Digest(CRC32, []byte("report.csv"))
	s.Check(1, CRC32, digest, PolicyDelete, now)

	got := s.Check(1, CRC32, digest, PolicyDelete, now.Add(30*time.Second))
	assert.Equal(t, Delete, got)
}

func TestExpiredEntryResetsToWarnAndSend(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(0, 0)
	digest := Digest(CRC32, []byte("report.csv"))
	s.Check(1, CRC32, digest, PolicyStore, now)

	got := s.Check(1, CRC32, digest, PolicyStore, now.Add(2*time.Minute))
	assert.Equal(t, WarnAndSend, got)
}

func TestDifferentOwnersDoNotCollide(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(0, 0)
	digest := Digest(CRC32, []byte("report.csv"))
	s.Check(1, CRC32, digest, PolicyDelete, now)

	got := s.Check(2, CRC32, digest, PolicyDelete, now.Add(time.Second))
	assert.Equal(t, WarnAndSend, got)
}

func TestCompactRemovesOnlyExpired(t *testing.T) {
	s := New(time.Minute)
	now := time.Unix(0, 0)
	s.Check(1, CRC32, 111, PolicyWarn, now)
	s.Check(2, CRC32, 222, PolicyWarn, now)

	removed := s.Compact(now.Add(30 * time.Second))
	assert.Equal(t, 0, removed)
	assert.Equal(t, 2, s.Len())

	removed = s.Compact(now.Add(2 * time.Minute))
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, s.Len())
}

func TestDigestVariantsDiffer(t *testing.T) {
	data := []byte("same-bytes")
	assert.NotEqual(t, Digest(CRC32, data), Digest(CRC32C, data))
	assert.NotEqual(t, Digest(CRC32, data), Digest(Murmur3, data))
}
