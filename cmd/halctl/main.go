// Command halctl fetches HAL resources through a persistent hal cache and
// inspects what the cache holds.
//
// Usage:
//
//	halctl [flags] get <url> [alias]
//	halctl [flags] show <alias>
//	halctl [flags] links <alias>
//	halctl [flags] aliases
//	halctl [flags] origins
//	halctl [flags] purge
//	halctl [flags] watch
//
// Settings are read from a YAML file (-config) and overridden by flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/time/rate"

	"github.com/knaydenov/hal"
	"github.com/knaydenov/hal/httpclient"
	"github.com/knaydenov/hal/kvstore/file"
)

const version = "0.1.0"

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "halctl: %v\n", err)
		os.Exit(1)
	}
}

// optionsFlag collects repeated -o key=value request options.
type optionsFlag hal.RequestOptions

func (o optionsFlag) String() string {
	parts := make([]string, 0, len(o))
	for k, v := range o {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (o optionsFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	if prev, ok := o[k]; ok {
		switch p := prev.(type) {
		case []any:
			o[k] = append(p, v)
		default:
			o[k] = []any{p, v}
		}
		return nil
	}
	o[k] = v
	return nil
}

func mainImpl() error {
	configPath := flag.String("config", "halctl.yaml", "YAML configuration file")
	baseURL := flag.String("base-url", "", "API base URL")
	store := flag.String("store", "", "Cache backend (memory, file, sqlite, redis)")
	path := flag.String("path", "", "Cache file for the file and sqlite backends")
	prefix := flag.String("prefix", "", "Key prefix of the persisted blobs")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	trace := flag.Bool("trace", false, "Export OpenTelemetry spans and metrics to stderr")
	opts := optionsFlag{}
	flag.Var(opts, "o", "Request option key=value, repeatable")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "base-url":
			cfg.BaseURL = *baseURL
		case "store":
			cfg.Store = *store
		case "path":
			cfg.Path = *path
		case "prefix":
			cfg.Prefix = *prefix
		case "log-level":
			cfg.LogLevel = *logLevel
		case "trace":
			cfg.Trace = *trace
		}
	})
	if err := cfg.validate(); err != nil {
		return err
	}
	if flag.NArg() == 0 {
		return errors.New("missing command; see -help")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	ll := &slog.LevelVar{}
	if err := ll.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	kv, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}

	halOpts := []hal.Option{
		hal.WithPrefix(cfg.Prefix),
		hal.WithLogger(logger),
	}
	if cfg.DumpInterval > 0 {
		halOpts = append(halOpts, hal.WithDumpInterval(cfg.DumpInterval))
	}
	if cfg.Trace {
		obs, shutdown, err := setupTelemetry(os.Stderr, version)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("telemetry shutdown", "error", err)
			}
		}()
		halOpts = append(halOpts, hal.WithObservability(obs))
	}

	h, err := hal.New(ctx, client, kv, halOpts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(context.Background()); err != nil {
			logger.Error("closing cache", "error", err)
		}
	}()

	return run(ctx, h, kv, hal.RequestOptions(opts), flag.Args(), os.Stdout)
}

func newClient(cfg Config, logger *slog.Logger) (*httpclient.Client, error) {
	opts := []httpclient.Option{
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithRetry(cfg.Retries, 0),
		httpclient.WithLogger(logger),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, httpclient.WithHeader(k, v))
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, httpclient.WithRateLimit(rate.Limit(cfg.RateLimit), 1))
	}
	return httpclient.New(cfg.BaseURL, opts...)
}

// run executes one command against h and writes its output to w.
func run(ctx context.Context, h *hal.Hal, kv hal.KeyValueStore, opts hal.RequestOptions, args []string, w io.Writer) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: get <url> [alias]")
		}
		alias := ""
		if len(args) == 2 {
			alias = args[1]
		}
		data, err := h.Follow(ctx, args[0], opts, alias)
		if err != nil {
			return err
		}
		return writeJSON(w, data)

	case "show":
		if len(args) != 1 {
			return errors.New("usage: show <alias>")
		}
		data, ok := h.Resolve(args[0])
		if !ok {
			return fmt.Errorf("%q: %w", args[0], hal.ErrDataNotFound)
		}
		return writeJSON(w, data)

	case "links":
		if len(args) != 1 {
			return errors.New("usage: links <alias>")
		}
		data, ok := h.Resolve(args[0])
		if !ok {
			return fmt.Errorf("%q: %w", args[0], hal.ErrDataNotFound)
		}
		rels := data.Links()
		sort.Strings(rels)
		for _, rel := range rels {
			href, _ := data.Link(rel)
			fmt.Fprintf(w, "%s\t%s\n", rel, href)
		}
		return nil

	case "aliases":
		aliases := h.Aliases()
		keys := make([]string, 0, len(aliases))
		for k := range aliases {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%s\n", k, aliases[k])
		}
		return nil

	case "origins":
		origins := h.Origins()
		keys := make([]string, 0, len(origins))
		for k := range origins {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%d\n", k, len(h.AliasesFor(k)))
		}
		return nil

	case "purge":
		return h.Clear(ctx)

	case "watch":
		fs, ok := kv.(*file.Store)
		if !ok {
			return errors.New("watch needs the file store")
		}
		h.SetAutoDump(false)
		err := fs.Watch(ctx, func() {
			if err := h.Reload(ctx); err != nil {
				h.Logger().Error("reload failed", "error", err)
				return
			}
			fmt.Fprintf(w, "%s reloaded: %d origins\n", time.Now().Format(time.TimeOnly), len(h.Origins()))
		})
		if err != nil {
			return err
		}
		<-ctx.Done()
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
