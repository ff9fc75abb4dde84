package report

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/relay/internal/config"
	"github.com/rzbill/relay/internal/deadletter"
	pebblestore "github.com/rzbill/relay/internal/storage/pebble"
	"github.com/rzbill/relay/pkg/client/transports"
	logpkg "github.com/rzbill/relay/pkg/log"
)

// NewDLQCommand constructs the `dlq` command group over the local
// dead-letter store: list, resend, purge.
func NewDLQCommand(logger logpkg.Logger) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and replay dead-lettered batches",
		Long: `Batches whose delivery failed are persisted locally when dead-lettering
is enabled. These commands inspect that store, resend stored batches to
the service and purge entries.`,
	}
	dlqCmd.PersistentFlags().String("config", "", "Path to a YAML config file (env still applies)")

	dlqCmd.AddCommand(
		newDLQListCommand(),
		newDLQResendCommand(logger),
		newDLQPurgeCommand(),
	)
	return dlqCmd
}

func newDLQListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered batches, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			limit, _ := cmd.Flags().GetInt("limit")

			db, store, err := openDeadLetterFromPath(cfgPath)
			if err != nil {
				return err
			}
			defer db.Close()

			entries, err := store.List(limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("dead-letter store is empty")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTORED\tSEQ\tRECORDS\tREASON")
			for _, e := range entries {
				stored := time.UnixMilli(e.StoredAtMs).UTC().Format(time.RFC3339)
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					e.ID, stored, e.Batch.Seq, len(e.Batch.Records), clip(e.Reason, 60))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int("limit", 50, "Maximum entries to list (0 = all)")
	return cmd
}

func newDLQResendCommand(logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resend [id]",
		Short: "Resend stored batches and delete them on success",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Endpoint == "" || cfg.Project == "" {
				return fmt.Errorf("endpoint and project are required to resend")
			}

			db, store, err := openDeadLetterStore(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			var entries []deadletter.Entry
			if len(args) == 1 {
				entry, err := store.Get(args[0])
				if err != nil {
					return err
				}
				if entry == nil {
					return fmt.Errorf("entry %s not found", args[0])
				}
				entries = []deadletter.Entry{*entry}
			} else {
				if entries, err = store.List(0); err != nil {
					return err
				}
			}
			if len(entries) == 0 {
				fmt.Println("nothing to resend")
				return nil
			}

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

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sent := 0
			for _, e := range entries {
				if err := transport.SendLogBatch(ctx, wireEntries(e.Batch)); err != nil {
					logger.Error("resend failed",
						logpkg.Str("entry", e.ID),
						logpkg.Uint64("seq", e.Batch.Seq),
						logpkg.Err(err))
					continue
				}
				if err := store.Delete(e.ID); err != nil {
					return err
				}
				sent++
			}
			fmt.Printf("resent %d of %d batches\n", sent, len(entries))
			return nil
		},
	}
	return cmd
}

func newDLQPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete all dead-lettered batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			db, store, err := openDeadLetterFromPath(cfgPath)
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.Purge()
			if err != nil {
				return err
			}
			fmt.Printf("purged %d entries\n", n)
			return nil
		},
	}
}

// wireEntries converts a stored batch to transport entries for a direct
// resend, bypassing the batching pipeline.
func wireEntries(sb deadletter.StoredBatch) []transports.LogEntry {
	entries := make([]transports.LogEntry, 0, len(sb.Records))
	for _, r := range sb.Records {
		e := transports.LogEntry{
			LaunchUUID: r.LaunchUUID,
			ItemUUID:   r.ItemUUID,
			TimeMs:     r.TimeMs,
			Level:      r.Level,
			Message:    r.Message,
		}
		if r.Attachment != nil {
			e.File = &transports.LogFile{
				Name:        r.Attachment.Name,
				ContentType: r.Attachment.ContentType,
				Content:     r.Attachment.Content,
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func openDeadLetterFromPath(cfgPath string) (*pebblestore.DB, *deadletter.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, err
	}
	return openDeadLetterStore(cfg)
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
