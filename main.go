package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"ridechat/internal/api"
	"ridechat/internal/auth"
	"ridechat/internal/chatview"
	"ridechat/internal/commands"
	"ridechat/internal/config"
	"ridechat/internal/models"
	"ridechat/internal/notify"
	"ridechat/internal/storage"
	"ridechat/internal/unread"
	"ridechat/internal/ws"
)

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	flags := flag.NewFlagSet("ridechat", flag.ContinueOnError)
	rideID := flags.String("ride", "", "Open the chat of this ride instead of the conversation list")
	ownerID := flags.String("with", "", "Ride owner to chat with (used with -ride)")
	offline := flags.Bool("offline", false, "Print the local archive and exit (use -ride for one ride)")
	limit := flags.Int("limit", 50, "Number of archived messages to print in offline mode")
	envFile := flags.String("env", ".env", "Environment file to load if present")
	debug := flags.Bool("debug", false, "Enable debug logging")
	if err := flags.Parse(args); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*offline, *envFile)
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, bbStorage.Close()) }()

	if *offline {
		return commands.PrintArchive(bbStorage, *rideID, *limit, commands.NewTerminal(stdout, ""))
	}

	identity, err := auth.ParseToken(cfg.Token)
	if err != nil {
		return err
	}
	wiped, err := bbStorage.ClaimOwner(identity.UserID)
	if err != nil {
		return err
	}
	if wiped {
		logger.Info("archive belonged to another user and was cleared")
	}

	client, err := api.New(api.Config{
		BaseURL: cfg.ServerURL,
		Token:   identity.Token,
		Timeout: cfg.RequestTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	term := commands.NewTerminal(stdout, identity.UserID)

	tracker := unread.NewTracker(logger)
	tracker.OnChange(term.Unread)
	watcher := unread.NewWatcher(tracker, unread.WatcherConfig{
		URL:                  cfg.ServerURL,
		Path:                 cfg.WSPath,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		ReconnectDelay:       cfg.UnreadReconnectDelay,
		MaxReconnectAttempts: cfg.UnreadMaxReconnects,
		Logger:               logger,
	})

	session := ws.NewSession(ws.Config{
		URL:              cfg.ServerURL,
		Path:             cfg.WSPath,
		Token:            identity.Token,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	})

	ctrl := chatview.New(chatview.Config{
		Identity:        identity,
		Session:         session,
		API:             client,
		Tracker:         tracker,
		Archive:         bbStorage,
		RetryDelay:      cfg.ChatRetryDelay,
		MaxRetries:      cfg.ChatMaxRetries,
		RefreshInterval: cfg.UnreadRefreshInterval,
		Logger:          logger,
		OnMessage:       term.Message,
		OnNotice:        term.Notice,
		OnStatus:        term.Status,
	})
	watcher.OnNotification(ctrl.HandleUnread)

	var forwarder *notify.Forwarder
	if cfg.WebPush.Enabled() {
		forwarder = notify.NewForwarder(notify.Config{
			Endpoint:        cfg.WebPush.Endpoint,
			P256dh:          cfg.WebPush.P256dh,
			Auth:            cfg.WebPush.Auth,
			VAPIDPublicKey:  cfg.WebPush.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.WebPush.VAPIDPrivateKey,
			Subscriber:      cfg.WebPush.Subscriber,
			Logger:          logger,
		})
		watcher.OnNotification(forwarder.Enqueue)
	}

	if *rideID != "" {
		if err := ctrl.OpenRide(*rideID, models.User{ID: models.ID(*ownerID)}); err != nil {
			return err
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ctrl.Run(gCtx)
	})

	// Unread notifications are optional; the chat works without them.
	g.Go(func() error {
		defer watcher.Stop()
		if err := watcher.Start(gCtx, identity.Token); err != nil {
			if gCtx.Err() == nil {
				logger.Warn("unread notifications unavailable", "error", err)
			}
		} else {
			// Start reset the tracker; load the server's flags again.
			_ = ctrl.Resync()
		}
		<-gCtx.Done()
		return nil
	})

	if forwarder != nil {
		g.Go(func() error {
			return forwarder.Run(gCtx)
		})
	}

	g.Go(func() error {
		err := commands.Prompt(gCtx, stdin, ctrl, term)
		if errors.Is(err, commands.ErrQuit) || errors.Is(err, chatview.ErrClosed) {
			return errQuit
		}
		return err
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

var errQuit = errors.New("quit")

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, flag.ErrHelp) {
		log.Fatalf("Application error: %v", err)
	}
}
