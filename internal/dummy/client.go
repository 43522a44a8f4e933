// Package dummy emulates the transfer client for dry runs: it logs like the
// real client, burns CPU while "receiving", writes the output file and prints
// the completion sentinel.
package dummy

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
)

const slice = 10 * time.Millisecond

type ClientConfig struct {
	Host     string
	Port     int
	Output   string
	Duration time.Duration // time spent receiving
	Busy     float64       // CPU duty cycle while receiving, 0..1
	Size     int64         // bytes written to Output
	Sentinel string
	Linger   bool // keep running after the sentinel until cancelled
}

// Run performs one emulated transfer, logging to w. With Linger set it
// returns only when ctx is done, like a client that never closes on its own.
func Run(ctx context.Context, cfg ClientConfig, w io.Writer) error {
	logf(w, "INFO:quic.client:Connecting to %s:%d", cfg.Host, cfg.Port)
	start := time.Now()

	if err := burn(ctx, cfg.Duration, cfg.Busy); err != nil {
		logf(w, "WARNING:quic.client:Transfer aborted")
		return err
	}
	if cfg.Output != "" {
		if err := writeOutput(cfg.Output, cfg.Size); err != nil {
			return err
		}
		logf(w, "INFO:quic.client:Wrote %d bytes to %s", cfg.Size, cfg.Output)
	}
	logf(w, "INFO:quic.client:Time taken to receive the file: %.2f s", time.Since(start).Seconds())
	if cfg.Sentinel != "" {
		fmt.Fprintln(w, cfg.Sentinel)
	}

	if cfg.Linger {
		<-ctx.Done()
	}
	return nil
}

// burn keeps one core busy for the busy fraction of every slice until d has
// elapsed.
func burn(ctx context.Context, d time.Duration, busy float64) error {
	if busy < 0 {
		busy = 0
	}
	if busy > 1 {
		busy = 1
	}
	deadline := time.Now().Add(d)
	spin := time.Duration(float64(slice) * busy)
	var sink uint64

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		until := time.Now().Add(spin)
		for time.Now().Before(until) {
			sink = sink*6364136223846793005 + 1442695040888963407
		}
		if rest := slice - spin; rest > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(rest):
			}
		}
	}
	_ = sink
	return nil
}

func writeOutput(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	buf := make([]byte, 64*1024)
	for left := size; left > 0; {
		n := int64(len(buf))
		if left < n {
			n = left
		}
		if _, err := f.Write(buf[:n]); err != nil {
			f.Close()
			return errors.Wrap(err, "write output")
		}
		left -= n
	}
	return errors.Wrap(f.Close(), "close output")
}

func logf(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, format+"\n", args...)
}
