// Package fleetctl is the operator command line for a fleetd node. Status commands talk
// to a running daemon over its local HTTP listener; state, query and node key commands
// work directly against the node's configured stores.
package fleetctl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fleetd/fleetd/internal/agent"
	"github.com/fleetd/fleetd/internal/config"
	"github.com/fleetd/fleetd/internal/distributed"
	"github.com/fleetd/fleetd/internal/kvstore"
	"github.com/fleetd/fleetd/internal/nodekey"
	"github.com/fleetd/fleetd/internal/query"
)

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer

	LoadConfig func() (config.Config, error)
	Agent      agent.Options
	Keyring    *nodekey.Keyring
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// Run executes one command and returns the process exit code: 0 on success, 1 when the
// command failed, 2 on a usage error.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}
	if defaults.LoadConfig == nil {
		defaults.LoadConfig = func() (config.Config, error) { return config.LoadFromEnv("fleetctl") }
	}

	root := newRootCommand(&defaults)
	root.SetArgs(args)
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) {
		_, _ = fmt.Fprintln(defaults.Stderr)
		_ = root.Usage()
		return 2
	}
	return 1
}

func newRootCommand(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Inspect and operate a fleetd node",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q", args[0])
			}
			return nil
		},
		RunE: func(*cobra.Command, []string) error {
			return usageErrorf("a command is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.PersistentFlags().StringVar(&opts.BaseURL, "base-url", firstNonEmpty(opts.BaseURL, "http://127.0.0.1:9310"), "fleetd status listener URL")
	root.PersistentFlags().StringVar(&opts.Token, "token", opts.Token, "bearer token for the status listener")
	root.PersistentFlags().DurationVar(&opts.Timeout, "timeout", durationOr(opts.Timeout, 10*time.Second), "HTTP timeout (e.g. 10s)")

	for _, endpoint := range []struct{ use, short, path string }{
		{"health", "Check that the daemon is up", "/v1/health"},
		{"ready", "Check the daemon's dependencies", "/v1/ready"},
		{"status", "Show distributed query state", "/v1/distributed"},
		{"carves", "List files carved by the daemon", "/v1/carves"},
	} {
		path := endpoint.path
		root.AddCommand(&cobra.Command{
			Use:   endpoint.use,
			Short: endpoint.short,
			Args:  exactArgs(0),
			RunE: func(cmd *cobra.Command, _ []string) error {
				return getJSON(cmd.Context(), opts, path)
			},
		})
	}

	root.AddCommand(newStateCommand(opts), newRunOnceCommand(opts), newQueryCommand(opts), newNodeKeyCommand(opts))
	return root
}

func newStateCommand(opts *Options) *cobra.Command {
	state := &cobra.Command{
		Use:   "state",
		Short: "Inspect the durable distributed work record",
		Args:  exactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return usageErrorf("state requires a subcommand: show, clear")
		},
	}
	state.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last pulled batch",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStateStore(cmd.Context(), opts, func(store kvstore.Store) error {
				value, err := store.Get(cmd.Context(), distributed.WorkNamespace, distributed.WorkKey)
				if errors.Is(err, kvstore.ErrNotFound) || (err == nil && strings.TrimSpace(value) == "") {
					_, _ = fmt.Fprintln(opts.Stdout, "no distributed work recorded")
					return nil
				}
				if err != nil {
					return err
				}
				printBody(opts.Stdout, []byte(value))
				return nil
			})
		},
	})
	state.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the last pulled batch so it is not reported as interrupted",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStateStore(cmd.Context(), opts, func(store kvstore.Store) error {
				if err := store.Delete(cmd.Context(), distributed.WorkNamespace, distributed.WorkKey); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(opts.Stdout, "distributed work record cleared")
				return nil
			})
		},
	})
	return state
}

func newRunOnceCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once",
		Short: "Pull, run and flush a single distributed batch",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withAgent(cmd.Context(), opts, func(a *agent.Agent) error {
				if err := a.Runner.RunOnce(cmd.Context()); err != nil {
					return err
				}
				return printJSON(opts.Stdout, a.Distributed.Snapshot())
			})
		},
	}
}

func newQueryCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "query <sql>",
		Short: "Run SQL against the local host tables",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAgent(cmd.Context(), opts, func(a *agent.Agent) error {
				result, err := a.Engine.Execute(cmd.Context(), query.Request{SQL: args[0]})
				if err != nil {
					return err
				}
				return printJSON(opts.Stdout, map[string]any{
					"columns":     result.Columns,
					"rows":        result.Rows,
					"duration_ms": result.Duration.Milliseconds(),
				})
			})
		},
	}
}

func newNodeKeyCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodekey",
		Short: "Manage the node key kept in the local keyring",
		Args:  exactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			return usageErrorf("nodekey requires a subcommand: set, show, clear")
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Store the node key",
		Args:  exactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			ring, err := openKeyring(opts)
			if err != nil {
				return err
			}
			if err := ring.Set(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(opts.Stdout, "node key stored")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored node key",
		Args:  exactArgs(0),
		RunE: func(c *cobra.Command, _ []string) error {
			ring, err := openKeyring(opts)
			if err != nil {
				return err
			}
			key, err := ring.NodeKey(c.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(opts.Stdout, key)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored node key",
		Args:  exactArgs(0),
		RunE: func(*cobra.Command, []string) error {
			ring, err := openKeyring(opts)
			if err != nil {
				return err
			}
			if err := ring.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(opts.Stdout, "node key cleared")
			return nil
		},
	})
	return cmd
}

func withStateStore(ctx context.Context, opts *Options, fn func(kvstore.Store) error) error {
	if opts.Agent.StateStore != nil {
		return fn(opts.Agent.StateStore)
	}
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	store, closer, err := agent.OpenStateStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer() }()
	}
	return fn(store)
}

func withAgent(ctx context.Context, opts *Options, fn func(*agent.Agent) error) error {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return err
	}
	a, err := agent.New(ctx, cfg, opts.Agent)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(a)
}

func openKeyring(opts *Options) (*nodekey.Keyring, error) {
	if opts.Keyring != nil {
		return opts.Keyring, nil
	}
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.NodeKey.KeyringDir == "" {
		return nil, fmt.Errorf("FLEETD_NODE_KEY_KEYRING_DIR is required for node key commands")
	}
	ring, err := nodekey.OpenFile(cfg.NodeKey.KeyringDir, cfg.NodeKey.Service, cfg.NodeKey.KeyringPassword)
	if err != nil {
		return nil, err
	}
	opts.Keyring = ring
	return ring, nil
}

func getJSON(ctx context.Context, opts *Options, path string) error {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	endpoint := strings.TrimRight(opts.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if token := strings.TrimSpace(opts.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	printBody(opts.Stdout, body)
	return nil
}

func printJSON(w io.Writer, value any) error {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, _ = fmt.Fprintln(w, string(formatted))
	return nil
}

func printBody(w io.Writer, raw []byte) {
	if pretty, ok := prettyJSON(raw); ok {
		_, _ = fmt.Fprintln(w, pretty)
		return
	}
	if len(raw) > 0 {
		_, _ = fmt.Fprintln(w, string(raw))
	}
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(_ *cobra.Command, args []string) error {
		if len(args) != n {
			return usageErrorf("expected %d argument(s), got %d", n, len(args))
		}
		return nil
	}
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
