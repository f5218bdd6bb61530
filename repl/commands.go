package repl

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tfviewer "github.com/voegtlel/tensorflow-viewer"
)

const helpText = `open <path>            open a log file for tailing
close                  close the current log file
tags                   list known tags and kinds
steps <tag>            list indexed steps of a tag
scalar <tag> <step>    print the scalar value at a step
series <tag>           print the whole scalar series
image <tag> <step>     decode the image at a step, print dimensions
nearest <tag> <step>   closest indexed step at or below the given one
poll                   one tailing pass
follow [seconds]       poll until new data or timeout (default 5s)
status                 tailer state and load progress
resync <offset>        resume tailing at a trusted offset after corruption
exit                   quit`

func (repl *REPL) CommandHelp([]string) error {
	fmt.Println(helpText)
	return nil
}

func (repl *REPL) CommandOpen(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: open <path>")
	}
	if repl.Session != nil {
		_ = repl.Session.Close()
	}
	s, err := tfviewer.Open(args[0], repl.Opts)
	if err != nil {
		return err
	}
	repl.Session = s
	return repl.CommandPoll(nil)
}

func (repl *REPL) CommandClose([]string) error {
	if repl.Session == nil {
		return nil
	}
	err := repl.Session.Close()
	repl.Session = nil
	return err
}

func (repl *REPL) session() (*tfviewer.Session, error) {
	if repl.Session == nil {
		return nil, ErrNoSession
	}
	return repl.Session, nil
}

func (repl *REPL) CommandTags([]string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	for _, tag := range s.Tags() {
		n := 0
		for range s.Steps(tag.Name) {
			n++
		}
		fmt.Printf("%s\t%s\t%d steps\n", tag.Name, tag.Kind, n)
	}
	return nil
}

func (repl *REPL) CommandSteps(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: steps <tag>")
	}
	for step := range s.Steps(args[0]) {
		fmt.Println(step)
	}
	return nil
}

func tagStep(args []string, usage string) (string, int64, error) {
	if len(args) != 2 {
		return "", 0, errors.New(usage)
	}
	step, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad step: %w", err)
	}
	return args[0], step, nil
}

func (repl *REPL) CommandScalar(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	tag, step, err := tagStep(args, "usage: scalar <tag> <step>")
	if err != nil {
		return err
	}
	v, ok := s.Scalar(tag, step)
	if !ok {
		return fmt.Errorf("no scalar for tag %q at step %d", tag, step)
	}
	fmt.Printf("%g\n", v)
	return nil
}

func (repl *REPL) CommandSeries(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: series <tag>")
	}
	steps, values, ok := s.Series(args[0])
	if !ok {
		return fmt.Errorf("no scalar series for tag %q", args[0])
	}
	for i := range steps {
		fmt.Printf("%d\t%g\n", steps[i], values[i])
	}
	return nil
}

func (repl *REPL) CommandImage(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	tag, step, err := tagStep(args, "usage: image <tag> <step>")
	if err != nil {
		return err
	}
	p, err := s.Image(tag, step)
	if err != nil {
		return err
	}
	fmt.Printf("%dx%d, %d channel(s), %d bytes decoded\n",
		p.Width, p.Height, p.Channels, p.SizeBytes())
	return nil
}

func (repl *REPL) CommandNearest(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	tag, step, err := tagStep(args, "usage: nearest <tag> <step>")
	if err != nil {
		return err
	}
	actual, ok := s.Nearest(tag, step)
	if !ok {
		return fmt.Errorf("tag %q has no step at or below %d", tag, step)
	}
	fmt.Println(actual)
	return nil
}

func printResult(res tfviewer.PollResult) {
	switch res.Status {
	case tfviewer.NoChange:
		fmt.Println("no change")
	case tfviewer.NewData:
		fmt.Printf("%d record(s) absorbed\n", res.Records)
	case tfviewer.CorruptDetected:
		fmt.Printf("corruption at offset %d; inspect the file and `resync <offset>`\n", res.Offset)
	}
}

func (repl *REPL) CommandPoll([]string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	res, err := s.Poll(context.Background())
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (repl *REPL) CommandFollow(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	wait := 5 * time.Second
	if len(args) == 1 {
		secs, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("bad duration: %w", err)
		}
		wait = time.Duration(secs) * time.Second
	}
	res, err := s.PollWait(context.Background(), wait)
	if err != nil {
		return err
	}
	printResult(res)
	return nil
}

func (repl *REPL) CommandStatus([]string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	total, err := s.BytesTotal()
	if err != nil {
		return err
	}
	fmt.Printf("state %s, %d/%d bytes indexed, %d tag(s)\n",
		s.State(), s.BytesIndexed(), total, len(s.Tags()))
	return nil
}

func (repl *REPL) CommandResync(args []string) error {
	s, err := repl.session()
	if err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: resync <offset>")
	}
	off, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("bad offset: %w", err)
	}
	if err = s.Resync(off); err != nil {
		return err
	}
	return repl.CommandPoll(nil)
}
