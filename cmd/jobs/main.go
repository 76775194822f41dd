package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/victorescoto/fiap-ml-finance/internal/di"
	"github.com/victorescoto/fiap-ml-finance/internal/usecase"
	"github.com/victorescoto/fiap-ml-finance/pkg/config"
	applogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

var errQueueDisabled = errors.New("queue is disabled: enable queue and redis in config")

func main() {
	os.Exit(runMain())
}

func runMain() int {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	job := flag.String("job", "", "job to run: "+strings.Join(usecase.JobNames, ", ")+" (default $JOB_NAME)")
	enqueue := flag.Bool("enqueue", false, "hand the job to the redis queue instead of running it")
	dryRun := flag.Bool("dry-run", false, "compute everything, write nothing")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 1
	}
	name := *job
	if name == "" {
		name = cfg.JobName
	}
	if *dryRun {
		cfg.Ingest.DryRun = true
		cfg.Training.DryRun = true
	}

	jobs, err := di.InitializeJobs(cfg)
	if err != nil {
		log.Printf("jobs initialization failed: %v", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		jobs.Close(closeCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := run(ctx, jobs, name, *enqueue)
	if err != nil {
		jobs.Logger.Error("job error", applogger.String("job", name), applogger.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Printf("encode result: %v", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, jobs *di.Jobs, name string, enqueue bool) (usecase.JobResult, error) {
	if !enqueue {
		return jobs.Runner.Dispatch(ctx, name)
	}
	if !slices.Contains(usecase.JobNames, name) {
		return usecase.JobResult{Status: usecase.StatusNoop, Job: name}, nil
	}
	if jobs.Enqueuer == nil {
		return usecase.JobResult{Job: name}, errQueueDisabled
	}
	if err := jobs.Enqueuer.Enqueue(ctx, name, usecase.JobRequest{Job: name}); err != nil {
		return usecase.JobResult{Job: name}, err
	}
	return usecase.JobResult{Status: usecase.StatusOK, Job: name, Result: "enqueued"}, nil
}
