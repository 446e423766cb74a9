package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Ivanworkspace/events-futurecraft/pkg/agenda"
	"github.com/Ivanworkspace/events-futurecraft/pkg/config"
	"github.com/Ivanworkspace/events-futurecraft/pkg/export"
	"github.com/Ivanworkspace/events-futurecraft/pkg/local"
	"github.com/Ivanworkspace/events-futurecraft/pkg/logging"
	"github.com/Ivanworkspace/events-futurecraft/pkg/metrics"
	"github.com/Ivanworkspace/events-futurecraft/pkg/model"
	"github.com/Ivanworkspace/events-futurecraft/pkg/server"
	"github.com/Ivanworkspace/events-futurecraft/pkg/store"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens.
func run() int {
	// 1. Parse Flags
	configPath := flag.String("config", "", "Path to config.yaml (default ~/.config/promemoria/config.yaml)")
	setBackend := flag.String("set-backend", "", "Set the default backend: local, firestore, dynamodb, postgres")
	doAuth := flag.Bool("auth", false, "Authenticate with Firestore and cache the token")
	serve := flag.Bool("serve", false, "Serve the HTTP API")
	addText := flag.String("add", "", "Add an appointment with this text")
	date := flag.String("date", "", "Date for -add, YYYY-MM-DD (default today)")
	at := flag.String("time", "", "Time for -add, HH:MM (optional)")
	notes := flag.String("notes", "", "Notes for -add (optional)")
	toggleID := flag.String("toggle", "", "Toggle the done flag of the appointment with this id")
	deleteID := flag.String("delete", "", "Delete the appointment with this id")
	overdue := flag.Bool("overdue", false, "List pending appointments that are already past")
	ics := flag.Bool("ics", false, "Print the appointments as an iCalendar feed")
	flag.Parse()

	// 2. Handle Set Backend, on the file alone so env values are never persisted
	if *setBackend != "" {
		backend, err := saveBackend(*configPath, *setBackend)
		if err != nil {
			log.Printf("Error setting backend: %v", err)
			return 1
		}
		fmt.Printf("Default backend set to: %s\n", backend)
		return 0
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("Error loading config: %v", err)
		return 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Printf("Error creating logger: %v", err)
		return 1
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return 1
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		if dataDir, err = local.DefaultDir(); err != nil {
			logger.Error("could not find data directory", zap.Error(err))
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Handle Authentication
	if *doAuth {
		if err := authenticate(ctx, dataDir, logger); err != nil {
			logger.Error("authentication failed", zap.Error(err))
			return 1
		}
		fmt.Println("Authentication successful!")
		return 0
	}

	// 4. Select the backend once; a remote that cannot be reached means local only
	remote, closeRemote, err := openRemote(ctx, cfg, dataDir, logger)
	if err != nil {
		logger.Warn("remote backend unavailable, using local storage",
			zap.String("backend", cfg.Backend), zap.Error(err))
		remote = nil
	}
	defer closeRemote()

	collector := metrics.NewCollector("promemoria")
	loc := cfg.Location()
	st := store.New(local.NewStore(local.NewKV(dataDir), cfg.StorageKey, logger), store.Options{
		Remote:   remote,
		Breaker:  cfg.Breaker,
		Logger:   logger,
		Metrics:  collector,
		Labels:   agenda.LabelsFor(cfg.Locale),
		Location: loc,
	})
	st.Load(ctx)
	logger.Debug("appointments loaded", zap.String("mode", st.Mode().String()), zap.Int("count", len(st.Items())))

	// 5. Dispatch
	switch {
	case *serve:
		if err := runServer(ctx, cfg, st, collector, logger); err != nil {
			logger.Error("server failed", zap.Error(err))
			return 1
		}

	case *addText != "":
		apt, err := st.Add(ctx, model.Fields{Date: *date, Time: *at, Text: *addText, Notes: *notes})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Added %s\n", apt.ID)
		printAgenda(os.Stdout, st.View())

	case *toggleID != "":
		if _, ok := st.ToggleDone(ctx, *toggleID); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v: %s\n", model.ErrNotFound, *toggleID)
			return 1
		}
		printAgenda(os.Stdout, st.View())

	case *deleteID != "":
		if !st.Remove(ctx, *deleteID) {
			fmt.Fprintf(os.Stderr, "Error: %v: %s\n", model.ErrNotFound, *deleteID)
			return 1
		}
		printAgenda(os.Stdout, st.View())

	case *overdue:
		printOverdue(os.Stdout, st.Overdue())

	case *ics:
		fmt.Print(export.ICS(st.Items(), loc, time.Now()))

	default:
		printAgenda(os.Stdout, st.View())
	}
	return 0
}

// saveBackend rewrites the default backend in the config file and returns
// the normalized name. Backend settings such as a DSN still come from the
// environment at run time.
func saveBackend(path, backend string) (string, error) {
	cfg, err := config.LoadFile(path)
	if err != nil {
		return "", err
	}
	cfg.Backend = backend
	cfg.Normalize()
	if err := config.CheckBackend(cfg.Backend); err != nil {
		return "", err
	}
	return cfg.Backend, config.Save(path, cfg)
}

func runServer(ctx context.Context, cfg *config.Config, st *store.Store, collector *metrics.Collector, logger *zap.Logger) error {
	if cfg.Refresh != "" && st.Mode() == store.Remote {
		c := cron.New(cron.WithLocation(cfg.Location()))
		if _, err := c.AddFunc(cfg.Refresh, func() {
			if err := st.Refresh(ctx); err == nil {
				logger.Debug("appointments refreshed")
			}
		}); err != nil {
			return fmt.Errorf("invalid refresh schedule: %w", err)
		}
		c.Start()
		defer c.Stop()
	}

	srv := server.New(st, server.Options{
		Logger:      logger,
		Metrics:     collector,
		Location:    cfg.Location(),
		CORSOrigins: cfg.CORSOrigins,
		RateLimit:   server.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		TrustProxy:  cfg.TrustProxy,
	})
	err := server.ListenAndServe(ctx, cfg.Listen, srv.Routes(), logger)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printAgenda(w io.Writer, groups []agenda.DayGroup) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "Nessun impegno.")
		return
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s · %s\n", g.Label, g.DateKey)
		for _, apt := range g.Items {
			box := "[ ]"
			if apt.Done {
				box = "[x]"
			}
			at := "     "
			if apt.HasTime() {
				at = *apt.Time
			}
			fmt.Fprintf(w, "  %s %s  %s  (%s)\n", box, at, apt.Text, apt.ID)
			if apt.Notes != nil {
				fmt.Fprintf(w, "            %s\n", *apt.Notes)
			}
		}
	}
}

func printOverdue(w io.Writer, list []model.Appointment) {
	if len(list) == 0 {
		fmt.Fprintln(w, "Nessun impegno scaduto.")
		return
	}
	for _, apt := range list {
		at := "     "
		if apt.HasTime() {
			at = *apt.Time
		}
		fmt.Fprintf(w, "  %s %s  %s  (%s)\n", apt.Date, at, apt.Text, apt.ID)
	}
}
