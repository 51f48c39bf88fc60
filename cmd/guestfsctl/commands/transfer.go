package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/guestfsrpc/internal/bytesize"
	"github.com/marmos91/guestfsrpc/internal/cli/timeutil"
	"github.com/marmos91/guestfsrpc/pkg/client"
	"github.com/marmos91/guestfsrpc/pkg/progress"
)

// cancelOnInterrupt cancels token on the first SIGINT so the transfer
// stops at a chunk boundary and the session stays usable. The returned
// function stops listening.
func cancelOnInterrupt(token *progress.CancelToken) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			token.Cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// countingWriter counts bytes written, for the summary line.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func summary(cmd *cobra.Command, verb string, n int64, start time.Time) {
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s %s in %s\n", verb, bytesize.ByteSize(n), timeutil.FormatElapsed(time.Since(start)))
}

// transferError labels a transfer stopped by Ctrl+C.
func transferError(err error, token *progress.CancelToken) error {
	if client.Cancelled(err) || token.Cancelled() {
		return fmt.Errorf("transfer cancelled: %w", err)
	}
	return err
}

// ============================================================================
// upload
// ============================================================================

var uploadOffset int64

var uploadCmd = &cobra.Command{
	Use:   "upload <local|-> <remote>",
	Short: "Upload a local file to the guest",
	Long: `Upload a local file, or stdin when the source is "-", replacing the
remote file. With --offset the data is written at that offset without
truncating. Ctrl+C cancels the transfer cleanly.

Examples:
  guestfsctl upload disk.cfg /etc/disk.cfg
  tar c . | guestfsctl upload --progress - /backup.tar`,
	Args: cobra.ExactArgs(2),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().Int64Var(&uploadOffset, "offset", -1, "Write at this offset instead of replacing the file")
}

func runUpload(cmd *cobra.Command, args []string) error {
	var (
		src  io.Reader = cmd.InOrStdin()
		size int64
	)
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
			size = fi.Size()
		}
		src = f
	}

	token := progress.NewCancelToken()
	stop := cancelOnInterrupt(token)
	defer stop()

	start := time.Now()
	counted := &countingReader{r: src}
	err := withSession(func(ctx sessionContext) error {
		opts := client.TransferOpts{Cancel: token, Size: size}
		if uploadOffset >= 0 {
			return ctx.s.UploadOffset(ctx, counted, args[1], uploadOffset, opts)
		}
		return ctx.s.Upload(ctx, counted, args[1], opts)
	})
	if err != nil {
		return transferError(err, token)
	}
	summary(cmd, "uploaded", counted.n, start)
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// ============================================================================
// download
// ============================================================================

var (
	downloadOffset   int64
	downloadSize     int64
	downloadCompress string
	downloadLevel    int32
)

var downloadCmd = &cobra.Command{
	Use:   "download <remote> <local|->",
	Short: "Download a guest file or device",
	Long: `Download a remote file or device to a local file, or stdout when the
destination is "-". --offset and --size select a range; --compress asks
the daemon to compress the stream (gzip or zstd). Ctrl+C cancels the
transfer cleanly.

Examples:
  guestfsctl download /etc/fstab fstab
  guestfsctl download --compress zstd /dev/sda disk.img.zst`,
	Args: cobra.ExactArgs(2),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().Int64Var(&downloadOffset, "offset", 0, "Start of the range to download")
	downloadCmd.Flags().Int64Var(&downloadSize, "size", -1, "Length of the range to download (-1 to the end)")
	downloadCmd.Flags().StringVar(&downloadCompress, "compress", "", "Compress on the daemon: gzip or zstd")
	downloadCmd.Flags().Int32Var(&downloadLevel, "level", 0, "Compression level (0 for the default)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	ranged := cmd.Flags().Changed("offset") || cmd.Flags().Changed("size")
	if ranged && downloadCompress != "" {
		return errors.New("--compress cannot be combined with --offset or --size")
	}

	var dst io.Writer = cmd.OutOrStdout()
	if args[1] != "-" {
		f, err := os.Create(args[1])
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		dst = f
	}
	counted := &countingWriter{w: dst}

	token := progress.NewCancelToken()
	stop := cancelOnInterrupt(token)
	defer stop()

	start := time.Now()
	err := withSession(func(ctx sessionContext) error {
		opts := client.TransferOpts{Cancel: token}
		switch {
		case downloadCompress != "":
			copts := client.CompressOpts{}
			if downloadLevel != 0 {
				copts.Level = client.Ptr(downloadLevel)
			}
			return ctx.s.CompressOut(cancelAware(ctx, token), downloadCompress, args[0], counted, copts)
		case ranged:
			size := downloadSize
			if size < 0 {
				total, err := ctx.s.Filesize(ctx, args[0])
				if err != nil {
					return err
				}
				size = max(total-downloadOffset, 0)
			}
			return ctx.s.DownloadOffset(ctx, args[0], downloadOffset, size, counted, opts)
		default:
			return ctx.s.Download(ctx, args[0], counted, opts)
		}
	})
	if err != nil {
		if args[1] != "-" {
			_ = os.Remove(args[1])
		}
		return transferError(err, token)
	}
	summary(cmd, "downloaded", counted.n, start)
	return nil
}

// cancelAware derives a context cancelled with token, for calls that take
// no cancel token of their own.
func cancelAware(ctx context.Context, token *progress.CancelToken) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-token.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}
