package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "facelock dev (unknown, built unknown)", String())

	Version, GitSHA, BuildTime = "v1.2.0", "abc1234", "2026-03-01T12:00:00Z"
	t.Cleanup(func() { Version, GitSHA, BuildTime = "dev", "unknown", "unknown" })
	assert.Equal(t, "facelock v1.2.0 (abc1234, built 2026-03-01T12:00:00Z)", String())
}
