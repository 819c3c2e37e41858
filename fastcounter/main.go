package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	sqlx "github.com/jmoiron/sqlx"
	fastcounter "github.com/next-exp/fastcounter_go/pkg"
)

var dbConn *sqlx.DB
var configuration fastcounter.Configuration

var (
	logger         Logger
	stdoutMu       = &sync.Mutex{}
	VerbosityLevel int
)

func init() {
	opts := &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}
	handlerStdOut := NewHandler(os.Stdout, stdoutMu, opts)
	handlerStdErr := slog.NewJSONHandler(os.Stderr, opts)
	logger = Logger{
		InfoLog:  slog.New(handlerStdOut),
		ErrorLog: slog.New(handlerStdErr),
	}
}

func main() {
	configFilename := flag.String("config", "", "Configuration file path (json, toml or yaml)")
	listProfiles := flag.Bool("list-profiles", false, "List the device profiles stored in the database and exit")
	flag.Parse()

	if err := run(*configFilename, *listProfiles); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func run(configFilename string, listProfiles bool) error {
	var err error
	configuration, err = LoadConfiguration(configFilename)
	if err != nil {
		return fmt.Errorf("Error reading configuration file: %w", err)
	}
	fastcounter.SetConfiguration(configuration)
	fastcounter.SetLogger(logger)

	VerbosityLevel = configuration.Verbosity
	if VerbosityLevel > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", configFilename)
		logger.Info(message, "main")
		printConfiguration(configuration, logger)
	}

	if listProfiles || !configuration.NoDB {
		dbConn, err = fastcounter.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			return fmt.Errorf("Error connection to database: %w", err)
		}
		defer dbConn.Close()
	}
	if listProfiles {
		return printProfiles(dbConn)
	}
	return acquire()
}

func acquire() error {
	if !configuration.NoDB {
		profile, err := fastcounter.LoadDeviceProfile(dbConn, configuration.DeviceSerial)
		if err != nil {
			return fmt.Errorf("error loading device profile: %w", err)
		}
		configuration, err = fastcounter.ApplyProfile(configuration, profile)
		if err != nil {
			return err
		}
		fastcounter.SetConfiguration(configuration)
		if VerbosityLevel > 0 {
			message := fmt.Sprintf("Using profile of %s %s", profile.Model, profile.Serial)
			logger.Info(message, "main")
		}
	}

	plan, err := fastcounter.NewPlan(configuration)
	if err != nil {
		return fmt.Errorf("error sizing acquisition: %w", err)
	}

	// Only the in-process card is available; a vendor driver would provide
	// the same fastcounter.Hardware accessors.
	card := fastcounter.NewSimCard(plan.Geometry, plan.Layout, configuration.GateCounting)
	session, err := fastcounter.NewSession(configuration, plan, card.Hardware())
	if err != nil {
		return fmt.Errorf("error creating session: %w", err)
	}
	logger.Info(fmt.Sprintf("Session %s on simulated card at %g Hz", session.ID, configuration.SimTriggerRateHz), "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := newStatusLine(os.Stdout, stdoutMu)
	defer status.done()

	var wg sync.WaitGroup
	bg, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		card.Run(bg, configuration.SimTriggerRateHz)
	}()
	go func() {
		defer wg.Done()
		runStatus(bg, session, time.Duration(configuration.StatusIntervalS*float64(time.Second)), status)
	}()
	if batches := session.Batches(); batches != nil {
		startWorkers(bg, batches, configuration.NumWorkers, &wg)
	}

	start := time.Now()
	err = session.Run(ctx)
	status.done()

	trace := session.Trace()
	stats := session.Stats()
	logger.Info(fmt.Sprintf("Merged %d sweeps in %v (%d ticks, %d drains, %d disarms, %d overruns)",
		trace.Info.ElapsedSweeps, time.Since(start).Round(time.Millisecond), stats.Ticks, stats.Drains,
		stats.Backpressure, card.Overruns()), "main")
	if VerbosityLevel > 1 {
		logger.Info(fmt.Sprintf("Drain latency p50 %v p90 %v p99 %v", stats.LatencyP50, stats.LatencyP90, stats.LatencyP99), "main")
	}

	var stalled *fastcounter.ErrAcquisitionStalled
	if errors.As(err, &stalled) {
		return fmt.Errorf("acquisition stalled, is the trigger connected? %w", err)
	}
	return err
}

func printProfiles(db *sqlx.DB) error {
	profiles, err := fastcounter.ListDeviceProfiles(db)
	if err != nil {
		return err
	}
	serials := make([]string, 0, len(profiles))
	for serial := range profiles {
		serials = append(serials, serial)
	}
	sort.Strings(serials)
	for _, serial := range serials {
		p := profiles[serial]
		fmt.Printf("%-12s %-12s capacity %d S, max reps %d, alignment %d, %s, %d mV\n",
			p.Serial, p.Model, p.CapacitySamples, p.MaxRepsPerBuffer, p.Alignment, p.GateCounting, p.RangeMV)
	}
	return nil
}
