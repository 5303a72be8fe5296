package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tannerhall/briefd/internal/cache"
	"github.com/tannerhall/briefd/internal/config"
	"github.com/tannerhall/briefd/internal/notify"
	"github.com/tannerhall/briefd/internal/ops"
	"github.com/tannerhall/briefd/internal/reconcile"
	"github.com/tannerhall/briefd/internal/sections"
	"github.com/tannerhall/briefd/internal/stream"
)

// newServeCmd creates the serve subcommand.
func newServeCmd() *cobra.Command {
	var (
		configPath string
		interval   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to the chat feed and print periodic briefings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			return runServe(cfg, interval)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "Briefing interval")

	return cmd
}

func runServe(cfg *config.Config, interval time.Duration) error {
	logger := ops.NewLogger(&cfg.Logging)
	ops.SetDefault(logger)
	logger.LogStartup(version, commit)

	store := cache.NewStore()
	trigger := notify.NewTrigger(&cfg.Notify, cfg.Identity)

	reconciler := reconcile.New(store, nil, cfg.Identity, trigger.MentionsPost,
		cfg.Stream.SinkBuffer, logger)
	defer reconciler.Close()

	manager := stream.NewManager(&cfg.Stream, logger, nil)
	defer manager.Dispose()

	unsubscribe := reconciler.Attach(manager)
	defer unsubscribe()

	manager.OnConnectionChange(func(connected bool, attempt int) {
		if connected {
			logger.Info("feed connected")
		} else {
			logger.Info("feed reconnecting", "attempt", attempt)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
	err := manager.Connect(dialCtx, cfg.Stream.Endpoint, cfg.Stream.Credential)
	dialCancel()
	if err != nil {
		return fmt.Errorf("failed to connect feed: %w", err)
	}

	go consumeEvents(ctx, reconciler, trigger, store, logger)

	composer := sections.NewComposer(&cfg.Compose, logger)
	sources := sections.FromConfig(cfg.Sections, map[string]sections.FetchFunc{
		"chat": chatSection(cfg, store),
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	printBriefing(ctx, composer, sources, cfg.Compose.Separator)

	for {
		select {
		case <-ticker.C:
			printBriefing(ctx, composer, sources, cfg.Compose.Separator)
		case <-sigChan:
			logger.LogShutdown("signal")
			return nil
		}
	}
}

func printBriefing(ctx context.Context, composer *sections.Composer, sources []sections.Source, separator string) {
	snapshot := composer.Compose(ctx, sources)
	if len(snapshot.Sections) == 0 {
		return
	}
	fmt.Println(snapshot.Render(separator))
}

// consumeEvents drains the reconciler's normalized event sink, raising
// mention alerts on post-created events.
func consumeEvents(ctx context.Context, reconciler *reconcile.Reconciler, trigger *notify.Trigger, store *cache.Store, logger *ops.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-reconciler.Events():
			if event.Type != reconcile.EventPostCreated || event.Post == nil {
				continue
			}

			var channelName string
			if channel, ok := store.GetChannel(event.ChannelID); ok {
				channelName = channel.DisplayName
			}

			decision := trigger.Decide(*event.Post, channelName)
			if decision.Alert {
				logger.Info("mention alert",
					"title", decision.Title,
					"preview", decision.Preview)
			}
		}
	}
}

// chatSection renders the unread chat summary from the local mirror.
func chatSection(cfg *config.Config, store *cache.Store) sections.FetchFunc {
	return func(ctx context.Context) (*sections.Result, error) {
		unreads := store.Unreads()
		if len(unreads) == 0 {
			return nil, nil
		}

		lines := make([]string, 0, len(unreads))
		for _, channel := range store.Channels() {
			count, ok := unreads[channel.ID]
			if !ok {
				continue
			}

			name := channel.DisplayName
			if name == "" {
				name = channel.Name
			}
			line := fmt.Sprintf("%s: %d unread", name, count.Messages)
			if count.Mentions > 0 {
				line += fmt.Sprintf(" (%d mentions)", count.Mentions)
			}
			lines = append(lines, sections.Preview(line, cfg.Compose.SectionPreview))
		}

		lines = sections.CapList(lines, cfg.Compose.ListCap)

		text := "Unread Chat\n"
		for _, line := range lines {
			text += "  " + line + "\n"
		}

		return &sections.Result{Text: text}, nil
	}
}
