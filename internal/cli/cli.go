package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"connswarm/internal/export"
	"connswarm/internal/storage"
	"connswarm/internal/swarm"
)

// Options controls the headless run around the core config.
type Options struct {
	OutPrefix   string
	SaveHistory bool
}

func Start(cfg swarm.Config, opts Options, logger *zap.Logger) {
	printHeader(cfg)

	updates := make(swarm.SnapshotChan, 100)
	orch := swarm.NewOrchestrator(cfg, updates, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	orch.StartTickLoop(ctx, 200*time.Millisecond)

	done := make(chan []swarm.ConnectionOutcome, 1)
	start := time.Now()
	go func() {
		done <- orch.Run(ctx)
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	var snap swarm.Snapshot
	for {
		select {
		case s := <-updates:
			snap = s
		case <-ticker.C:
			pct := 0.0
			if snap.Target > 0 {
				pct = float64(snap.Resolved) / float64(snap.Target)
			}
			fmt.Printf("\r%s %3.0f%% | %-8s | Conn: %d/%d | Active: %d | Fail: %d | Drop: %d",
				progressBar(pct, 20), pct*100,
				snap.Phase,
				snap.Resolved, snap.Target,
				snap.Active,
				snap.Failed,
				snap.Spontaneous,
			)
		case outcomes := <-done:
			printSummary(orch, outcomes, time.Since(start))
			handleAutoReport(outcomes, opts)
			if opts.SaveHistory {
				saveHistory(cfg, outcomes)
			}
			return
		}
	}
}

func printHeader(cfg swarm.Config) {
	fmt.Printf("\nCONNSWARM CONNECTION STRESS TEST\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Target        : %s\n", cfg.ServerURL)
	fmt.Printf("Connections   : %d (chunks of %d)\n", cfg.TargetConnections, cfg.ConnectionRate)
	fmt.Printf("Hold          : %s\n", cfg.HoldDuration)
	if cfg.ProbeInterval > 0 {
		fmt.Printf("Probe         : every %s, sample %d\n", cfg.ProbeInterval, cfg.ProbeSampleSize)
	}
	fmt.Printf("Retries       : %d (base %s, cap %s)\n", cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	fmt.Printf("======================================================================\n\n")
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func printSummary(orch *swarm.Orchestrator, outcomes []swarm.ConnectionOutcome, totalTime time.Duration) {
	s := swarm.Aggregate(outcomes)

	fmt.Printf("\n\nRUN RESULTS\n")
	fmt.Printf("======================================================================\n")
	fmt.Printf("Total Duration : %s\n", totalTime.Round(time.Second))
	fmt.Printf("Requested      : %d\n", s.Total)
	fmt.Printf("Successful     : %d\n", s.Successful)
	fmt.Printf("Failed         : %d\n", s.Failed)
	fmt.Printf("Spontaneous    : %d\n", s.SpontaneousDisconnections)
	fmt.Printf("Retention      : %.1f%%\n", s.RetentionRate*100)
	fmt.Printf("Stability      : %.1f%%\n", s.StabilityRate*100)

	if len(s.RetryDistribution) > 0 {
		fmt.Printf("\nRETRIES\n")
		counts := make([]int, 0, len(s.RetryDistribution))
		for k := range s.RetryDistribution {
			counts = append(counts, k)
		}
		sort.Ints(counts)
		for _, k := range counts {
			fmt.Printf("   %d retries x %d connections\n", k, s.RetryDistribution[k])
		}
	}

	if len(s.DisconnectReasons) > 0 {
		fmt.Printf("\nDISCONNECT REASONS\n")
		for reason, count := range s.DisconnectReasons {
			fmt.Printf("   %d x %s\n", count, reason)
		}
	}

	if rtt := orch.ProbeRTT(); rtt.TotalCount() > 0 {
		fmt.Printf("\nPROBE ROUND TRIPS (ms)\n")
		fmt.Printf("   P50 : %.2f\n", float64(rtt.ValueAtQuantile(50))/1000.0)
		fmt.Printf("   P90 : %.2f\n", float64(rtt.ValueAtQuantile(90))/1000.0)
		fmt.Printf("   P99 : %.2f\n", float64(rtt.ValueAtQuantile(99))/1000.0)
		fmt.Printf("   Max : %.2f\n", float64(rtt.Max())/1000.0)
		fmt.Printf("   Failures: %d\n", orch.ProbeFailures())
	}
	fmt.Printf("======================================================================\n")
}

func handleAutoReport(outcomes []swarm.ConnectionOutcome, opts Options) {
	if opts.OutPrefix == "" || len(outcomes) == 0 {
		return
	}

	fmt.Printf("\nWriting reports with prefix: %s\n", opts.OutPrefix)
	export.CSV(outcomes, opts.OutPrefix+".csv")
	export.JSON(outcomes, opts.OutPrefix+".json")
	export.Summary(outcomes, opts.OutPrefix+"_summary.json")
	fmt.Printf("Reports saved to %s.{csv,json,_summary.json}\n", opts.OutPrefix)
}

func saveHistory(cfg swarm.Config, outcomes []swarm.ConnectionOutcome) {
	hist, err := storage.NewHistory("")
	if err != nil {
		fmt.Printf("history unavailable: %v\n", err)
		return
	}

	id := uuid.New().String()
	now := time.Now()

	rec := storage.RunRecord{
		ID:        id,
		Timestamp: now,
		Config:    cfg,
		Summary:   swarm.Aggregate(outcomes),
	}
	if err := hist.Save(rec); err != nil {
		fmt.Printf("failed to save history: %v\n", err)
		return
	}

	// Full per-connection payload goes to the session store, keyed by the
	// same run ID as the history entry.
	store, err := storage.NewStore("")
	if err != nil {
		fmt.Printf("session store unavailable: %v\n", err)
		return
	}
	defer store.Close()

	session := storage.SessionRecord{
		ID:        id,
		Timestamp: now,
		Config:    cfg,
		Outcomes:  outcomes,
	}
	if err := store.Save(session); err != nil {
		fmt.Printf("failed to save session: %v\n", err)
		return
	}
	fmt.Printf("Run %s saved (full outcomes in %s)\n", id, store.Path())
}
