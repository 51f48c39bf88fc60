// Package cmdutil provides shared utilities for guestfsctl commands.
package cmdutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/cli/output"
	"github.com/marmos91/guestfsrpc/pkg/client"
	"github.com/marmos91/guestfsrpc/pkg/daemon"
)

// Flags stores global flag values accessible by subcommands.
var Flags = &GlobalFlags{
	Network: daemon.DefaultNetwork,
	Address: daemon.DefaultAddress,
}

// GlobalFlags holds the global flag values.
type GlobalFlags struct {
	Network  string
	Address  string
	Output   string
	Timeout  time.Duration
	Verbose  bool
	Trace    bool
	Progress bool
}

// Connect dials the daemon and launches the session. Progress messages
// are drawn on stderr when --progress is set. The caller closes the
// session.
func Connect(ctx context.Context) (*client.Session, error) {
	opts := client.Options{Trace: Flags.Trace}
	if Flags.Progress {
		opts.Progress = NewProgressBar(os.Stderr).Update
	}

	s, err := client.Dial(ctx, Flags.Network, Flags.Address, opts)
	if err != nil {
		return nil, fmt.Errorf("cannot reach guestfsd at %s %s: %w", Flags.Network, Flags.Address, err)
	}
	if err := s.Launch(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("launch: %w", err)
	}
	return s, nil
}

// Context returns the context commands run under, bounded by --timeout.
func Context() (context.Context, context.CancelFunc) {
	if Flags.Timeout > 0 {
		return context.WithTimeout(context.Background(), Flags.Timeout)
	}
	return context.WithCancel(context.Background())
}

// GetOutputFormatParsed returns the parsed output format.
func GetOutputFormatParsed() (output.Format, error) {
	return output.ParseFormat(Flags.Output)
}

// PrintOutput prints data in the selected format. For table output it
// prints emptyMsg when isEmpty is set, otherwise the table.
func PrintOutput(w io.Writer, data any, isEmpty bool, emptyMsg string, table *output.Table) error {
	format, err := GetOutputFormatParsed()
	if err != nil {
		return err
	}
	if format != output.FormatTable {
		return output.Print(w, format, data)
	}
	if isEmpty {
		_, _ = fmt.Fprintln(w, emptyMsg)
		return nil
	}
	return output.PrintTable(w, table)
}

// ProgressBar renders progress messages as a single updating line.
type ProgressBar struct {
	w     io.Writer
	start time.Time
}

// NewProgressBar creates a bar writing to w.
func NewProgressBar(w io.Writer) *ProgressBar {
	return &ProgressBar{w: w, start: time.Now()}
}

// Update draws p. A message whose position reaches its total ends the line.
func (b *ProgressBar) Update(p client.Progress) {
	if p.Total == 0 {
		return
	}
	pct := float64(p.Position) * 100 / float64(p.Total)
	_, _ = fmt.Fprintf(b.w, "\r%s %5.1f%% %s / %s",
		p.Action, pct, bytesize.ByteSize(p.Position), bytesize.ByteSize(p.Total))
	if p.Position >= p.Total {
		_, _ = fmt.Fprintln(b.w)
	}
}
