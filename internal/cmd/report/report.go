package report

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/deadletter"
	"github.com/rzbill/relay/internal/dispatch"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/pkg/client"
	"github.com/rzbill/relay/pkg/client/transports"
	logpkg "github.com/rzbill/relay/pkg/log"
	rp "github.com/rzbill/relay/pkg/report"
)

// NewReportCommand constructs `relay report`: replay a log file as one
// launch with one test item, one record per line.
func NewReportCommand(logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Replay a log file as a launch",
		Long: `Reads a plain-text log file and reports it as a launch with a single
test item, one log record per line. Lines prefixed with a level name
(for example "ERROR: connection refused") keep their level; everything
else is reported as INFO. The item finishes FAILED when any ERROR or
FATAL line was seen.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			file, _ := cmd.Flags().GetString("file")
			launchName, _ := cmd.Flags().GetString("launch")
			itemName, _ := cmd.Flags().GetString("item")
			return runReport(logger, cfgPath, file, launchName, itemName)
		},
	}
	cmd.Flags().String("config", "", "Path to a YAML config file (env still applies)")
	cmd.Flags().String("file", "", "Log file to replay (required)")
	cmd.Flags().String("launch", "", "Launch name (default: config, then file name)")
	cmd.Flags().String("item", "", "Item name (default: file name)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runReport(logger logpkg.Logger, cfgPath, file, launchName, itemName string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Endpoint == "" || cfg.Project == "" {
		return fmt.Errorf("endpoint and project are required (flags RELAY_ENDPOINT / RELAY_PROJECT or config file)")
	}

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	transport, err := transports.NewHTTPTransport(transports.HTTPOptions{
		Endpoint: cfg.Endpoint,
		Project:  cfg.Project,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.HTTPTimeout(),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	var sink dispatch.FailureSink
	if cfg.DeadLetter {
		db, store, err := openDeadLetterStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		sink = deadletter.NewSink(store, logger)
	}

	cli, err := client.New(client.Options{
		Transport:       transport,
		MaxEntries:      cfg.Batch.MaxEntries,
		MaxPayloadBytes: cfg.Batch.MaxPayloadBytes,
		QueueCapacity:   cfg.Batch.QueueCapacity,
		DrainTimeout:    cfg.DrainTimeout(),
		FilterExpr:      cfg.Filter,
		LaunchUUIDPrint: cfg.Launch.UUIDPrint,
		Sink:            sink,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	base := filepath.Base(file)
	if launchName == "" {
		launchName = cfg.Launch.Name
	}
	if launchName == "" {
		launchName = base
	}
	if itemName == "" {
		itemName = base
	}

	cli.StartLaunch(ctx, client.StartLaunchOptions{
		Name:        launchName,
		Description: cfg.Launch.Description,
		Mode:        cfg.LaunchMode(),
		Attributes:  cfg.LaunchAttributes(),
	})
	cli.StartItem(ctx, client.StartItemOptions{
		Name: itemName,
		Type: rp.ItemTypeTest,
	})

	status := rp.StatusPassed
	lines := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		level, msg := parseLine(line)
		if level >= rp.LevelError {
			status = rp.StatusFailed
		}
		cli.Log(client.LogOptions{Level: level, Message: msg})
		lines++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read log file: %w", err)
	}

	cli.FinishItem(ctx, client.FinishItemOptions{Status: status})
	finish := cli.FinishLaunch(ctx, client.FinishLaunchOptions{Status: status})
	if _, err := finish.Await(cfg.DrainTimeout() + time.Second); err != nil {
		logger.Warn("finish launch", logpkg.Err(err))
	}
	if err := cli.Stop(true); err != nil {
		return err
	}
	logger.Info("replay complete",
		logpkg.Str("file", base),
		logpkg.Int("records", lines),
		logpkg.Str("status", string(status)))
	return nil
}

// parseLine splits an optional leading level token off a log line.
// Recognized forms: "ERROR: msg", "ERROR msg", "[ERROR] msg".
func parseLine(line string) (rp.Level, string) {
	trimmed := strings.TrimSpace(line)
	token := trimmed
	rest := ""
	for i, r := range trimmed {
		if r == ' ' || r == ':' {
			token = trimmed[:i]
			rest = strings.TrimSpace(strings.TrimPrefix(trimmed[i:], ":"))
			break
		}
	}
	token = strings.Trim(token, "[]")
	switch strings.ToUpper(token) {
	case "TRACE", "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "FATAL":
		if rest == "" {
			return rp.ParseLevel(token), trimmed
		}
		return rp.ParseLevel(token), rest
	}
	return rp.LevelInfo, trimmed
}

func openDeadLetterStore(cfg config.Config) (*pebblestore.DB, *deadletter.Store, error) {
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	dir := filepath.Join(dataDir, "deadletter")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir: dir,
		Fsync:   pebblestore.FsyncModeAlways,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open dead-letter store: %w", err)
	}
	return db, deadletter.NewStore(db), nil
}
