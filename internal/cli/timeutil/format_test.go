package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "350ms", FormatElapsed(350*time.Millisecond))
	assert.Equal(t, "5s", FormatElapsed(5*time.Second+200*time.Millisecond))
	assert.Equal(t, "1m 5s", FormatElapsed(65*time.Second))
	assert.Equal(t, "2h 0m 1s", FormatElapsed(2*time.Hour+time.Second))
}

func TestFormatUnix(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.Local)
	assert.Equal(t, ts.Format(LocalTimeFormat), FormatUnix(ts.Unix()))
}
