package main

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/internal/testharness/runner"
	"github.com/domotruc/jmqtt-test/pkg/model"
)

// Console reads steps from the terminal and runs them in a session, so the
// plugin and the reference can be poked by hand.
type Console struct {
	r       *runner.Runner
	session *runner.Session
	rl      *readline.Instance
	out     io.Writer
}

// NewConsole creates a console on an open session.
func NewConsole(r *runner.Runner, s *runner.Session) (*Console, error) {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"), readline.PcItem("actions"), readline.PcItem("outputs"),
		readline.PcItem("ref"), readline.PcItem("quit"),
	}
	for _, a := range r.Engine().Actions() {
		items = append(items, readline.PcItem(a))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "jmqtt> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(items...),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{r: r, session: s, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that does not garble the prompt.
func (c *Console) Stdout() io.Writer { return c.rl.Stdout() }

// Run reads commands until quit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context) {
	defer c.rl.Close()
	c.printHelp()

	for {
		if ctx.Err() != nil {
			return
		}
		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
		if !c.exec(ctx, strings.TrimSpace(line)) {
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
	}
}

// exec runs one console line and reports whether to keep reading.
func (c *Console) exec(ctx context.Context, line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return true
	}
	args, err := splitArgs(line)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return true
	}

	switch strings.ToLower(args[0]) {
	case "help", "?":
		c.printHelp()
	case "actions":
		c.cmdActions()
	case "outputs", "o":
		printMap(c.out, c.session.Outputs())
	case "ref":
		c.cmdRef(args[1:])
	case "quit", "exit", "q":
		return false
	default:
		step, err := parseStep(args)
		if err != nil {
			fmt.Fprintf(c.out, "Error: %v\n", err)
			return true
		}
		c.printResult(c.session.Step(ctx, step))
	}
	return true
}

func (c *Console) printResult(sr *engine.StepResult) {
	if sr.Passed {
		fmt.Fprintf(c.out, "ok (%s)\n", sr.Duration.Round(time.Millisecond))
	} else {
		fmt.Fprintf(c.out, "FAILED (%s): %v\n", sr.Duration.Round(time.Millisecond), sr.Error)
	}
	printMap(c.out, sr.Output)
}

func (c *Console) cmdActions() {
	actions := c.r.Engine().Actions()
	sort.Strings(actions)
	for _, a := range actions {
		fmt.Fprintf(c.out, "  %s\n", a)
	}
}

// cmdRef prints the reference: every broker, or the equipments and
// commands of one broker.
func (c *Console) cmdRef(args []string) {
	store := c.r.Store()
	if len(args) == 0 {
		for _, b := range store.Brokers() {
			fmt.Fprintf(c.out, "  %-16s id=%-5s state=%-4s eqpts=%d\n", b.Name, b.ID(), b.State, len(b.Eqpts)-1)
		}
		return
	}
	b, err := store.Broker(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	for _, e := range b.Eqpts {
		printEquipment(c.out, e)
	}
}

func printEquipment(w io.Writer, e *model.Equipment) {
	enabled := "disabled"
	if e.Enabled() {
		enabled = "enabled"
	}
	fmt.Fprintf(w, "  %s [id=%s %s %s]\n", e.Name, e.ID, e.Configuration.Type, enabled)
	for _, cmd := range e.Cmds {
		fmt.Fprintf(w, "    %-24s %-6s %-8s %s = %v\n", cmd.Name, cmd.Type, cmd.SubType, cmd.LogicalID, cmd.CurrentValue)
	}
}

func printMap(w io.Writer, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !strings.HasPrefix(k, "_") {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %v\n", k, m[k])
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
jMQTT console
  <action> [key=value ...]  Run a scenario action, e.g.
                              add_equipment eqpt=lamp topic=lamp/#
                              publish topic=lamp/state payload='{"on": 1}'
                              assert channel=all
                            Values are YAML; expect.<key>=<value> adds an
                            expectation; {{ name }} reads an earlier output.
  actions                   List the actions
  outputs                   Show the outputs of the steps so far
  ref [broker]              Show the reference brokers, or one broker
  help                      Show this help
  quit                      Delete the added brokers and exit`)
}
