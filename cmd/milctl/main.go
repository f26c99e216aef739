// milctl is the interactive shell for a memindex data directory.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"

	"github.com/devtrail/memindex/internal/config"
	"github.com/devtrail/memindex/internal/event"
	"github.com/devtrail/memindex/internal/logging"
	"github.com/devtrail/memindex/internal/mil"
)

// Version is set at build time via ldflags
var Version = "dev"

var suggestions = []prompt.Suggest{
	{Text: "ingest", Description: "ingest <source> <json>  append one raw record"},
	{Text: "temporal", Description: "temporal <start-ms> <end-ms>  query a time range"},
	{Text: "file", Description: "file <path-or-glob>  query by file"},
	{Text: "module", Description: "module <name>  query by module"},
	{Text: "type", Description: "type <event-type>  query by type"},
	{Text: "get", Description: "get <id>  fetch one event"},
	{Text: "context", Description: "context <id> [window-ms]  build an LLM context window"},
	{Text: "stats", Description: "show engine statistics"},
	{Text: "rotate", Description: "force a journal rotation"},
	{Text: "sql", Description: "sql <query>  run SQL over archived events"},
	{Text: "flush", Description: "drain the journal and persist snapshots"},
	{Text: "quit", Description: "close the store and exit"},
}

type shell struct {
	store *mil.Store
}

func main() {
	cfgPath := flag.String("config", "", "config file path")
	dataDir := flag.String("data", "", "data directory (overrides config)")
	logLevel := flag.String("log-level", "warn", "log level: debug, info, warn, error")
	jsonLogs := flag.Bool("log-json", false, "JSON log output")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *cfgPath != "" {
		cfg, err = config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.DefaultConfig()
		if err := cfg.ApplyEnv(); err != nil {
			fmt.Fprintf(os.Stderr, "apply env: %v\n", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logging.Init(parseLevel(*logLevel), *jsonLogs)

	store, err := mil.Open(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open store: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{store: store}
	fmt.Printf("milctl %s  data=%s  (type a command, tab completes)\n", Version, cfg.DataDir)

	p := prompt.New(
		sh.execute,
		completer,
		prompt.OptionPrefix("memindex> "),
		prompt.OptionTitle("milctl"),
	)
	p.Run()

	if err := store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close store: %v\n", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func (sh *shell) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	args := strings.Fields(line)
	cmd, args := args[0], args[1:]
	ctx := context.Background()

	switch cmd {
	case "quit", "exit":
		sh.store.Close()
		os.Exit(0)
	case "ingest":
		sh.ingest(ctx, line, args)
	case "temporal":
		sh.temporal(ctx, args)
	case "file":
		sh.spatial(ctx, "file", args)
	case "module":
		sh.spatial(ctx, "module", args)
	case "type":
		sh.byType(ctx, args)
	case "get":
		sh.get(ctx, args)
	case "context":
		sh.context(ctx, args)
	case "stats":
		sh.stats()
	case "rotate":
		sh.rotate()
	case "sql":
		sh.sql(ctx, line)
	case "flush":
		if err := sh.store.Flush(); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
}

func (sh *shell) ingest(ctx context.Context, line string, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: ingest <source> <json>")
		return
	}
	source, err := event.ParseSource(args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "ingest"), " "+args[0]))
	e, err := sh.store.Ingest(ctx, []byte(raw), source)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("ingested id=%s seq=%d type=%s\n", e.ID, e.Seq, e.Type)
}

func (sh *shell) temporal(ctx context.Context, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: temporal <start-ms> <end-ms>")
		return
	}
	start, err1 := strconv.ParseInt(args[0], 10, 64)
	end, err2 := strconv.ParseInt(args[1], 10, 64)
	if err1 != nil || err2 != nil {
		fmt.Println("bounds must be unix milliseconds")
		return
	}

	events, err := sh.store.QueryTemporal(ctx, start, end, mil.QueryOptions{})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	printEvents(events)
}

func (sh *shell) spatial(ctx context.Context, kind string, args []string) {
	if len(args) != 1 {
		fmt.Printf("usage: %s <pattern>\n", kind)
		return
	}

	var events []*event.UnifiedEvent
	var err error
	if kind == "file" {
		events, err = sh.store.QueryByFile(ctx, args[0], mil.QueryOptions{})
	} else {
		events, err = sh.store.QueryByModule(ctx, args[0], mil.QueryOptions{})
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	printEvents(events)
}

func (sh *shell) byType(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: type <event-type>")
		return
	}
	t, err := event.ParseType(args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	events, err := sh.store.QueryByType(ctx, t, mil.QueryOptions{})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	printEvents(events)
}

func (sh *shell) get(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: get <id>")
		return
	}
	e, err := sh.store.Get(ctx, args[0])
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	printJSON(e)
}

func (sh *shell) context(ctx context.Context, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("usage: context <id> [window-ms]")
		return
	}
	var windowMs int64
	if len(args) == 2 {
		v, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			fmt.Println("window must be milliseconds")
			return
		}
		windowMs = v
	}

	window, err := sh.store.BuildContextForLLM(ctx, args[0], windowMs)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(window.Summary.Text)
	printEvents(window.Events)
}

func (sh *shell) stats() {
	printJSON(sh.store.Stats())
}

func (sh *shell) rotate() {
	path, err := sh.store.RotateNow()
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Printf("rotated to %s\n", path)
}

func (sh *shell) sql(ctx context.Context, line string) {
	query := strings.TrimSpace(strings.TrimPrefix(line, "sql"))
	if query == "" {
		fmt.Println("usage: sql <query>")
		return
	}

	rows, err := sh.store.SQL(ctx, query)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	for _, row := range rows {
		printJSON(row)
	}
	fmt.Printf("%d rows\n", len(rows))
}

func printEvents(events []*event.UnifiedEvent) {
	for _, e := range events {
		ts := time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339)
		fmt.Printf("%s  seq=%-6d %-14s %-10s %s\n", ts, e.Seq, e.Type, e.Source, e.ID)
	}
	fmt.Printf("%d events\n", len(events))
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}
	fmt.Println(string(data))
}
