package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

type action int

const (
	actSend action = iota
	actHelp
	actQuit
	actSkip
)

// interpret maps an input line to what the console should do. Anything
// that is not a local command goes to the server verbatim.
func interpret(line string, now time.Time) (action, string, error) {
	input := strings.TrimSpace(line)
	if input == "" {
		return actSkip, "", nil
	}
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "help", "?":
		return actHelp, "", nil
	case "quit", "exit", "q":
		return actQuit, "", nil
	case "record":
		msg, err := formatRecord(fields[1:], now)
		if err != nil {
			return actSkip, "", err
		}
		return actSend, msg, nil
	}
	return actSend, input, nil
}

// Console reads commands from the terminal and sends them to the machine.
type Console struct {
	client *Client
	rl     *readline.Instance
}

// NewConsole creates the readline prompt.
func NewConsole(c *Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "coffee> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("HeatUp"),
			readline.PcItem("Brew"),
			readline.PcItem("Normal"),
			readline.PcItem("Espresso"),
			readline.PcItem("WaterFillUp"),
			readline.PcItem("GroundClearing"),
			readline.PcItem("CoolDown"),
			readline.PcItem("History"),
			readline.PcItem("record"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{client: c, rl: rl}, nil
}

// Stdout returns a writer that does not garble the prompt.
func (c *Console) Stdout() io.Writer { return c.rl.Stdout() }

// Close ends a pending Readline.
func (c *Console) Close() error { return c.rl.Close() }

// Run reads lines until the user quits or ctx is done.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}

		act, msg, err := interpret(line, time.Now())
		if err != nil {
			fmt.Fprintln(c.rl.Stdout(), err)
			continue
		}
		switch act {
		case actHelp:
			c.printHelp()
		case actQuit:
			cancel()
			return
		case actSend:
			if err := c.client.Send(msg); err != nil {
				fmt.Fprintf(c.rl.Stdout(), "send failed: %v\n", err)
				cancel()
				return
			}
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Commands:
  HeatUp                       - heat the machine to brewing temperature
  Brew, <1-5>, Normal|Espresso - brew the chosen amount
  WaterFillUp                  - refill the water tank
  GroundClearing               - empty the grounds drawer
  CoolDown                     - cool the machine down
  History                      - request the coffee history
  record <type> <strength> [n] - store a coffee record
  help                         - show this help
  quit                         - exit`)
}
