package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	tfviewer "github.com/voegtlel/tensorflow-viewer"
	"github.com/voegtlel/tensorflow-viewer/repl"
	"github.com/voegtlel/tensorflow-viewer/utils"
)

func main() {
	verbose := flag.Bool("v", false, "debug logging")
	budget := flag.Int64("cache", 64<<20, "decoded image cache budget, bytes")
	cadence := flag.Duration("cadence", 250*time.Millisecond, "follow poll cadence")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}

	for _, c := range tfviewer.Collectors() {
		prometheus.MustRegister(c)
	}

	re := repl.REPL{
		Opts: tfviewer.Options{
			CacheBudget: *budget,
			PollCadence: *cadence,
			Logger:      utils.NewDefaultLogger(level),
		},
	}
	if err := re.Open(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	defer func() { _ = re.Close() }()

	if path := flag.Arg(0); path != "" {
		if err := re.CommandOpen([]string{path}); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
		}
	}

	for {
		if err := re.REPL(); err != nil {
			if !errors.Is(err, io.EOF) {
				_, _ = fmt.Fprintln(os.Stderr, err.Error())
			}
			break
		}
	}
}
