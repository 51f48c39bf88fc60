package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marmos91/guestfsrpc/internal/protocol/guestfs"
)

func TestDaemonVersion(t *testing.T) {
	tests := []struct {
		in   string
		want guestfs.Version
	}{
		{"v1.4.2", guestfs.Version{Major: 1, Minor: 4, Release: 2}},
		{"1.52.0-rc1", guestfs.Version{Major: 1, Minor: 52, Release: 0, Extra: "-rc1"}},
		{"2.1", guestfs.Version{Major: 2, Minor: 1}},
		{"dev", guestfs.Version{Extra: "dev"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, daemonVersion(tt.in))
		})
	}
}
