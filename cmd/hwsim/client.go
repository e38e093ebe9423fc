package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nerrad567/hwsim/internal/discovery"
	"github.com/nerrad567/hwsim/internal/message"
	"github.com/nerrad567/hwsim/internal/transport"
)

const defaultRequestTimeout = 5 * time.Second

// clientFlags are shared by send and shell.
type clientFlags struct {
	addr     string
	identity string
	codec    string
	wait     time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "", "Router address (default localhost and the configured port)")
	cmd.Flags().StringVar(&f.identity, "identity", "", "Client identity (default: a random UUID)")
	cmd.Flags().StringVar(&f.codec, "codec", "", "Payload codec, json or cbor (default from config)")
	cmd.Flags().DurationVar(&f.wait, "wait", defaultRequestTimeout, "How long to wait for each reply")
}

// dial fills unset flags from the config and connects.
func (f *clientFlags) dial(ctx context.Context, configPath string) (*transport.Client, error) {
	return f.dialAs(ctx, configPath, f.identity)
}

func (f *clientFlags) dialAs(ctx context.Context, configPath, identity string) (*transport.Client, error) {
	addr, codecName := f.addr, f.codec
	if addr == "" || codecName == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, err
		}
		if addr == "" {
			addr = net.JoinHostPort("localhost", strconv.Itoa(cfg.Server.Port))
		}
		if codecName == "" {
			codecName = cfg.Server.Codec
		}
	}
	codec, err := message.ForName(codecName)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, f.wait)
	defer cancel()
	return transport.Dial(dialCtx, addr, transport.ClientOptions{
		Identity: identity,
		Codec:    codec,
	})
}

func newSendCmd(configPath *string) *cobra.Command {
	var (
		flags   clientFlags
		dev     string
		command string
		process string
		value   string
		timeout float64
		rate    float64
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one command and print the reply",
		Example: `  hwsim send --device LED_BLUE --command STATUS
  hwsim send --device TEMP --command READ
  hwsim send --device TEMP --command CONFIG --value F
  hwsim send --device LED_MULTI --command PROCESS --process START_BLINK --timeout 10 --rate 0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			params := map[string]any{}
			if dev != "" {
				params[message.ParamDevice] = dev
			}
			if process != "" {
				params[message.ParamProcess] = process
			}
			if value != "" {
				params[message.ParamConfig] = value
			}
			if cmd.Flags().Changed("timeout") {
				params[message.ParamTimeout] = timeout
			}
			if cmd.Flags().Changed("rate") {
				params[message.ParamRate] = rate
			}

			client, err := flags.dial(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer client.Close() //nolint:errcheck // one-shot client

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.wait)
			defer cancel()
			reply, err := client.Command(ctx, strings.ToUpper(command), params)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&dev, "device", "d", "", "Device alias")
	cmd.Flags().StringVarP(&command, "command", "c", message.ValStatus, "STATUS, READ, CONFIG or PROCESS")
	cmd.Flags().StringVar(&process, "process", "", "Process parameter, e.g. START_BLINK")
	cmd.Flags().StringVar(&value, "value", "", "CONFIG value, e.g. ON, F or 3.3")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "Process TIMEOUT in seconds")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Process RATE in seconds")
	return cmd
}

func newShellCmd(configPath *string) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Interactive client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			first, err := flags.dial(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			identity := first.Identity()
			client := &redialClient{
				client: first,
				dial: func(ctx context.Context) (*transport.Client, error) {
					return flags.dialAs(ctx, *configPath, identity)
				},
			}
			defer client.Close() //nolint:errcheck // closed on exit

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "hwsim> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("failed to create readline: %w", err)
			}
			defer rl.Close() //nolint:errcheck // terminal restore is best effort

			return runShell(cmd.Context(), rl, client, flags.wait)
		},
	}
	flags.register(cmd)
	return cmd
}

// lineReader is the part of *readline.Instance the shell uses.
type lineReader interface {
	Readline() (string, error)
	Stdout() io.Writer
}

// commander is the part of *transport.Client the shell uses.
type commander interface {
	Identity() string
	Command(ctx context.Context, val string, params map[string]any) (string, error)
}

// redialClient replaces a client whose connection was lost, for example by
// a timed-out request, before sending the next command.
type redialClient struct {
	client *transport.Client
	dial   func(ctx context.Context) (*transport.Client, error)
}

func (r *redialClient) Identity() string {
	return r.client.Identity()
}

func (r *redialClient) Command(ctx context.Context, val string, params map[string]any) (string, error) {
	if r.client.Err() != nil {
		r.client.Close() //nolint:errcheck // already retired
		c, err := r.dial(ctx)
		if err != nil {
			return "", fmt.Errorf("reconnecting: %w", err)
		}
		r.client = c
	}
	return r.client.Command(ctx, val, params)
}

func (r *redialClient) Close() error {
	return r.client.Close()
}

// runShell reads commands until EOF, "exit" or ctx ends.
func runShell(ctx context.Context, rl lineReader, client commander, wait time.Duration) error {
	out := rl.Stdout()
	fmt.Fprintf(out, "connected as %s; type 'help' for commands\n", client.Identity())

	for {
		if ctx.Err() != nil {
			return nil
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}

		input := strings.TrimSpace(line)
		switch strings.ToLower(input) {
		case "":
			continue
		case "help", "?":
			printShellHelp(out)
			continue
		case "exit", "quit":
			return nil
		case "whoami":
			fmt.Fprintln(out, client.Identity())
			continue
		}

		val, params, err := parseShellLine(input)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		reqCtx, cancel := context.WithTimeout(ctx, wait)
		reply, err := client.Command(reqCtx, val, params)
		cancel()
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, reply)
	}
}

// parseShellLine parses "COMMAND DEVICE [ARG] [KEY=VALUE...]". The optional
// bare ARG is the CONFIG value for CONFIG and the PROCESS value for PROCESS.
//
// Examples:
//
//	STATUS LED_BLUE
//	CONFIG TEMP F
//	PROCESS LED_MULTI START_BLINK TIMEOUT=10 RATE=0.5
func parseShellLine(line string) (string, map[string]any, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil, errors.New("empty command")
	}

	val := strings.ToUpper(fields[0])
	params := map[string]any{}

	var bare []string
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			if k == "" {
				return "", nil, fmt.Errorf("bad parameter %q", f)
			}
			params[strings.ToUpper(k)] = v
			continue
		}
		bare = append(bare, f)
	}

	if len(bare) > 0 {
		params[message.ParamDevice] = bare[0]
	}
	if len(bare) > 1 {
		switch val {
		case message.ValConfig:
			params[message.ParamConfig] = bare[1]
		case message.ValProcess:
			params[message.ParamProcess] = strings.ToUpper(bare[1])
		default:
			return "", nil, fmt.Errorf("%s takes one device, got %q", val, strings.Join(bare, " "))
		}
	}
	if len(bare) > 2 {
		return "", nil, fmt.Errorf("unexpected argument %q", bare[2])
	}
	return val, params, nil
}

func printShellHelp(w io.Writer) {
	fmt.Fprint(w, `Commands:
  STATUS <device>                        Report device status
  READ <device>                          Read a sensor value
  CONFIG <device> <value>                ON/OFF, C/F or a voltage
  PROCESS <device> START_<name> [TIMEOUT=s] [RATE=s]
  PROCESS <device> STOP_<name>
  whoami                                 Print this client's identity
  help                                   Show this help
  exit                                   Leave the shell
`)
}

func newDiscoverCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find simulators advertised over mDNS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			endpoints, err := discovery.Browse(ctx, cfg.Discovery)
			if err != nil {
				return err
			}
			printEndpoints(cmd.OutOrStdout(), endpoints)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "How long to listen for answers")
	return cmd
}

func printEndpoints(w io.Writer, endpoints []discovery.Endpoint) {
	if len(endpoints) == 0 {
		fmt.Fprintln(w, "no simulators found")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INSTANCE\tADDRESS\tIDENTITY\tCODEC\tDEVICES\tVERSION")
	for _, e := range endpoints {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", e.Instance, e.Address(), e.Identity, e.Codec, e.Devices, e.Version)
	}
	tw.Flush() //nolint:errcheck // best-effort listing
}
