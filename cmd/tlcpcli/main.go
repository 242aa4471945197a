// Package main is a diagnostic command-line client for a TLCP push
// server: it opens a session, subscribes to the items named on the
// command line, and prints every update to stdout until interrupted.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tlcpclient "github.com/nugget/tlcp-client"
	"github.com/nugget/tlcp-client/internal/config"
	"github.com/nugget/tlcp-client/internal/listener"
	"github.com/nugget/tlcp-client/internal/protocol"
	"github.com/nugget/tlcp-client/internal/subscription"
	"github.com/nugget/tlcp-client/internal/tlcplog"
	"github.com/nugget/tlcp-client/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() == 0 {
		printUsage()
		return
	}

	switch flag.Arg(0) {
	case "watch":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "usage: tlcpcli watch <item>[,<item>...] [field...]")
			os.Exit(1)
		}
		runWatch(logger, *configPath, flag.Arg(1), flag.Args()[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("tlcpcli - TLCP push client diagnostic tool")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  watch <items> [fields]   Subscribe to a comma-separated item list and print updates")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runWatch(logger *slog.Logger, configPath string, itemList string, fields []string) {
	cfgPath, err := config.FindConfig(configPath)
	var cfg *config.Config
	if err != nil {
		logger.Warn("no config file found, using defaults", "error", err)
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			logger.Error("failed to load config", "path", cfgPath, "error", err)
			os.Exit(1)
		}
		logger.Info("config loaded", "path", cfgPath, "server", cfg.Server.Address)
	}

	if cfg.LogLevel != "" {
		level, err := tlcplog.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: tlcplog.ReplaceLevelNames,
		}))
	}

	if len(fields) == 0 {
		fields = []string{"value"}
	}

	items, err := protocol.NewListDescriptor(strings.Split(itemList, ","), protocol.ValidateItemName)
	if err != nil {
		logger.Error("invalid item list", "error", err)
		os.Exit(1)
	}
	fieldList, err := protocol.NewListDescriptor(fields, protocol.ValidateFieldName)
	if err != nil {
		logger.Error("invalid field list", "error", err)
		os.Exit(1)
	}

	httpTransport := transport.NewDefaultTransport()
	wsTransport := transport.NewDefaultWSTransport(logger)

	client, err := tlcpclient.New(cfg, httpTransport, wsTransport, logger)
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}

	client.SetListener(&cliListener{logger: logger})

	sub := subscription.New(subscription.ModeMerge, items, fieldList)
	client.Subscribe(sub, &cliSubscriptionListener{logger: logger})

	logger.Info("connecting", "server", cfg.Server.Address, "items", itemList)
	client.Connect()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	client.Disconnect()
}

// cliListener logs client-wide lifecycle events to stdout.
type cliListener struct {
	logger *slog.Logger
}

func (l *cliListener) OnStatusChange(status string) {
	l.logger.Info("status change", "status", status)
}

func (l *cliListener) OnServerError(code int, message string) {
	l.logger.Error("server rejected session", "code", code, "message", message)
}

func (l *cliListener) OnPropertyChange(name string) {
	l.logger.Debug("property changed", "name", name)
}

func (l *cliListener) OnListenStart() {}
func (l *cliListener) OnListenEnd()   {}

var _ listener.ClientListener = (*cliListener)(nil)

// cliSubscriptionListener prints every update for one subscription.
type cliSubscriptionListener struct {
	logger *slog.Logger
}

func (l *cliSubscriptionListener) OnSubscription() {
	l.logger.Info("subscribed")
}

func (l *cliSubscriptionListener) OnUnsubscription() {
	l.logger.Info("unsubscribed")
}

func (l *cliSubscriptionListener) OnSubscriptionError(code int, message string) {
	l.logger.Error("subscription error", "code", code, "message", message)
}

func (l *cliSubscriptionListener) OnItemUpdate(u *subscription.ItemUpdate) {
	fmt.Printf("%s: %v\n", u.ItemName, u.Values)
}

func (l *cliSubscriptionListener) OnEndOfSnapshot(itemName string, itemPos int) {
	l.logger.Debug("end of snapshot", "item", itemName, "pos", itemPos)
}

func (l *cliSubscriptionListener) OnClearSnapshot(itemName string, itemPos int) {
	l.logger.Debug("clear snapshot", "item", itemName, "pos", itemPos)
}

func (l *cliSubscriptionListener) OnItemLostUpdates(itemName string, itemPos int, lost int) {
	l.logger.Warn("lost updates", "item", itemName, "pos", itemPos, "count", lost)
}

func (l *cliSubscriptionListener) OnRealMaxFrequency(frequency string) {
	l.logger.Debug("real max frequency", "frequency", frequency)
}

func (l *cliSubscriptionListener) OnCommandSecondLevelSubscriptionError(code int, message string) {
	l.logger.Error("second-level subscription error", "code", code, "message", message)
}

func (l *cliSubscriptionListener) OnCommandSecondLevelItemLostUpdates(key string, lost int) {
	l.logger.Warn("second-level lost updates", "key", key, "count", lost)
}

func (l *cliSubscriptionListener) OnListenStart() {}
func (l *cliSubscriptionListener) OnListenEnd()   {}

var _ subscription.Listener = (*cliSubscriptionListener)(nil)
