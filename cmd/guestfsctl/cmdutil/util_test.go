package cmdutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/internal/cli/output"
	"github.com/marmos91/guestfsrpc/pkg/client"
)

func TestProgressBar(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf)

	bar.Update(client.Progress{Action: "upload", Position: 0, Total: 0})
	assert.Empty(t, buf.String())

	bar.Update(client.Progress{Action: "upload", Position: 512, Total: 1024})
	assert.Contains(t, buf.String(), "upload  50.0%")
	assert.False(t, strings.HasSuffix(buf.String(), "\n"))

	bar.Update(client.Progress{Action: "upload", Position: 1024, Total: 1024})
	assert.Contains(t, buf.String(), "100.0%")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
}

func TestPrintOutput(t *testing.T) {
	saved := Flags.Output
	t.Cleanup(func() { Flags.Output = saved })

	table := output.NewTable("Name")
	table.AddRow("boot")

	var buf bytes.Buffer
	Flags.Output = "table"
	require.NoError(t, PrintOutput(&buf, []string{"boot"}, true, "nothing here", table))
	assert.Equal(t, "nothing here\n", buf.String())

	buf.Reset()
	Flags.Output = "json"
	require.NoError(t, PrintOutput(&buf, []string{"boot"}, false, "", table))
	assert.JSONEq(t, `["boot"]`, buf.String())

	Flags.Output = "xml"
	assert.Error(t, PrintOutput(&buf, nil, false, "", table))
}
