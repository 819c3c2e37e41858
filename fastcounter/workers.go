package main

import (
	"context"
	"fmt"
	"sync"

	fastcounter "github.com/next-exp/fastcounter_go/pkg"
)

type batchResult struct {
	Repetitions int
	Gates       int
	GateSums    []int64
	Error       bool
}

func worker(id int, jobs <-chan fastcounter.RawBatch, results chan<- batchResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(fmt.Sprintf("Worker %d recovered from panic: %v", id, r))
			results <- batchResult{Error: true}
		}
	}()

	for batch := range jobs {
		if VerbosityLevel > 2 {
			logger.Info(fmt.Sprintf("Worker %d processing batch of %d repetitions", id, batch.Repetitions), "workers")
		}
		results <- batchResult{
			Repetitions: batch.Repetitions,
			Gates:       batch.Gates,
			GateSums:    batch.GateSums(),
		}
	}
}

func sendBatchesToWorkers(ctx context.Context, batches <-chan fastcounter.RawBatch, jobs chan<- fastcounter.RawBatch) {
	defer close(jobs)
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-batches:
			select {
			case jobs <- b:
			case <-ctx.Done():
				return
			}
		}
	}
}

// processWorkerResults keeps the mean gate sum per gate over every
// repetition seen on the raw stream.
func processWorkerResults(results <-chan batchResult) {
	var reps int64
	var failed int
	var means []float64
	for r := range results {
		if r.Error {
			failed++
			continue
		}
		if means == nil {
			means = make([]float64, r.Gates)
		}
		for i, sum := range r.GateSums {
			gate := i % r.Gates
			rep := reps + int64(i/r.Gates) + 1
			means[gate] += (float64(sum) - means[gate]) / float64(rep)
		}
		reps += int64(r.Repetitions)
	}
	if VerbosityLevel > 0 {
		logger.Info(fmt.Sprintf("Raw stream: %d repetitions, %d failed batches, mean gate sums %v", reps, failed, means), "workers")
	}
}

// startWorkers fans the raw batch stream out to n workers until ctx is done.
func startWorkers(ctx context.Context, batches <-chan fastcounter.RawBatch, n int, wg *sync.WaitGroup) {
	jobs := make(chan fastcounter.RawBatch, n)
	results := make(chan batchResult, n)

	var workers sync.WaitGroup
	for i := 0; i < n; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			worker(id, jobs, results)
		}(i)
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		sendBatchesToWorkers(ctx, batches, jobs)
	}()
	go func() {
		defer wg.Done()
		workers.Wait()
		close(results)
	}()
	go func() {
		defer wg.Done()
		processWorkerResults(results)
	}()
}
