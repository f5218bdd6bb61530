// Package repl is the interactive text front end: application glue over
// the session's query API, with no algorithmic weight of its own.
package repl

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ergochat/readline"

	tfviewer "github.com/voegtlel/tensorflow-viewer"
)

type REPL struct {
	Session *tfviewer.Session
	Opts    tfviewer.Options
	rl      *readline.Instance
}

var ErrNoSession = errors.New("no log file open")

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("close"),

	readline.PcItem("tags"),
	readline.PcItem("steps"),
	readline.PcItem("scalar"),
	readline.PcItem("series"),
	readline.PcItem("image"),
	readline.PcItem("nearest"),

	readline.PcItem("poll"),
	readline.PcItem("follow"),
	readline.PcItem("status"),
	readline.PcItem("resync"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◎ ",
		HistoryFile:     ".tfviewer_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	if repl.Session != nil {
		_ = repl.Session.Close()
		repl.Session = nil
	}
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// REPL reads and runs one command. Returns io.EOF on exit.
func (repl *REPL) REPL() error {
	line, err := repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	args := strings.Fields(line)
	cmd, args := args[0], args[1:]

	switch cmd {
	case "help":
		err = repl.CommandHelp(args)
	case "open":
		err = repl.CommandOpen(args)
	case "close":
		err = repl.CommandClose(args)
	case "exit", "quit":
		_ = repl.CommandClose(nil)
		return io.EOF
	// ----- queries -----
	case "tags":
		err = repl.CommandTags(args)
	case "steps":
		err = repl.CommandSteps(args)
	case "scalar":
		err = repl.CommandScalar(args)
	case "series":
		err = repl.CommandSeries(args)
	case "image":
		err = repl.CommandImage(args)
	case "nearest":
		err = repl.CommandNearest(args)
	// ----- tailing -----
	case "poll":
		err = repl.CommandPoll(args)
	case "follow":
		err = repl.CommandFollow(args)
	case "status":
		err = repl.CommandStatus(args)
	case "resync":
		err = repl.CommandResync(args)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
	}
	return nil
}
