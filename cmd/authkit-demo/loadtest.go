package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/user"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	principals  int
	concurrency int
	ops         int
}

// tokenState is one logged-in principal. Renew replaces access, so workers
// hold mu across a renew of the same state.
type tokenState struct {
	mu      sync.Mutex
	access  string
	refresh string
}

func newLoadtestCommand(setup setupFunc) *cobra.Command {
	var opts loadtestOptions
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure decision and renew throughput against the configured store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.principals <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return fmt.Errorf("principals, concurrency and ops must be > 0")
			}
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			// Approved tokens at login so renew is exercised.
			cfg.Engine.MFA.Factors = nil
			cfg.Engine.Metrics.Enabled = true
			cfg.Engine.Metrics.EnableLatencyHistograms = true
			cfg.OAuth = nil

			a, err := buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), a, opts)
		},
	}
	cmd.Flags().IntVar(&opts.principals, "principals", 1000, "number of principals to log in")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&opts.ops, "ops", 20000, "operations per phase")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, a *app, opts loadtestOptions) error {
	states := make([]tokenState, opts.principals)
	fmt.Fprintf(out, "logging in %d principals...\n", opts.principals)
	startSeed := time.Now()
	for i := range states {
		p := user.Principal{ID: uuid.NewString(), Active: true}
		a.users.Put(p)
		res, err := a.engine.Login(ctx, "bearer", &p)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		states[i].access = res.Access.Token
		states[i].refresh = res.RefreshToken
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	decide := a.engine.Authenticator().CurrentUser(authkit.Requirements{Active: true, Authorized: true})
	decideStats := runPhase(opts, func(r *rand.Rand) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		raw := s.access
		s.mu.Unlock()
		_, err := decide(bearerRequest(ctx, raw))
		return err
	})

	renewStats := runPhase(opts, func(r *rand.Rand) error {
		s := &states[r.Intn(len(states))]
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := a.engine.Renew(ctx, bearerRequest(ctx, s.access), s.refresh)
		if err != nil {
			return err
		}
		s.access = res.Access.Token
		if res.RefreshToken != "" {
			s.refresh = res.RefreshToken
		}
		return nil
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "decide", decideStats)
	printStats(out, "renew", renewStats)
	printHistogram(out, a.engine.MetricsSnapshot())
	return nil
}

func bearerRequest(ctx context.Context, raw string) *http.Request {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	return req
}

func runPhase(opts loadtestOptions, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, opts.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= opts.ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

var bucketLabels = []string{"<=5ms", "<=10ms", "<=25ms", "<=50ms", "<=100ms", "<=250ms", "<=500ms", ">500ms"}

func printHistogram(out io.Writer, snap authkit.MetricsSnapshot) {
	buckets := snap.Histograms[authkit.MetricDecisionLatency]
	if len(buckets) == 0 {
		return
	}
	fmt.Fprint(out, "decision latency:")
	for i, n := range buckets {
		if i < len(bucketLabels) {
			fmt.Fprintf(out, " %s=%d", bucketLabels[i], n)
		}
	}
	fmt.Fprintln(out)
}
