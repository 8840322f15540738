package benchmark

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/FairForge/requestopt/internal/events"
	"github.com/google/uuid"
)

func resultWith(name string, rps, meanLatency float64) *LoadTestResult {
	r := &LoadTestResult{
		ID:     uuid.NewString(),
		Config: Config{Name: name},
	}
	r.Performance.Throughput.RequestsPerSecond = rps
	r.Performance.Latency.Mean = meanLatency
	return r
}

func TestDetectRegressions_Throughput(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		severity string
	}{
		{"19% drop", 81, ""},
		{"21% drop", 79, SeverityMajor},
		{"51% drop", 49, SeverityCritical},
		{"improvement", 150, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			suite := NewSuite(instantTarget())
			var fired []Regression
			suite.Subscribe(events.RegressionsDetected, func(e events.Event) {
				fired = append(fired, e.Payload.(RegressionsEvent).Regressions...)
			})

			suite.RecordResult(context.Background(), resultWith("r", 100, 0))
			regs := suite.RecordResult(context.Background(), resultWith("r", tt.current, 0))

			if tt.severity == "" {
				if len(regs) != 0 || len(fired) != 0 {
					t.Errorf("expected no regression, got %+v", regs)
				}
				return
			}
			if len(regs) != 1 {
				t.Fatalf("expected 1 regression, got %d", len(regs))
			}
			if regs[0].Type != RegressionThroughput {
				t.Errorf("expected throughput regression, got %s", regs[0].Type)
			}
			if regs[0].Severity != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, regs[0].Severity)
			}
			if len(regs[0].PossibleCauses) == 0 || len(regs[0].RecommendedActions) == 0 {
				t.Error("expected advisory text")
			}
			if len(fired) != 1 {
				t.Errorf("expected regressions event, got %d regressions", len(fired))
			}
		})
	}
}

func TestDetectRegressions_Latency(t *testing.T) {
	th := DefaultRegressionThresholds()
	now := time.Now()

	if regs := DetectRegressions(resultWith("l", 0, 100), resultWith("l", 0, 124), th, now); len(regs) != 0 {
		t.Errorf("24%% increase should not regress, got %+v", regs)
	}

	regs := DetectRegressions(resultWith("l", 0, 100), resultWith("l", 0, 126), th, now)
	if len(regs) != 1 || regs[0].Severity != SeverityMajor {
		t.Errorf("expected one major latency regression, got %+v", regs)
	}

	regs = DetectRegressions(resultWith("l", 0, 100), resultWith("l", 0, 201), th, now)
	if len(regs) != 1 || regs[0].Severity != SeverityCritical {
		t.Errorf("expected one critical latency regression, got %+v", regs)
	}
	if regs[0].Before != 100 || regs[0].After != 201 {
		t.Errorf("unexpected before/after %v/%v", regs[0].Before, regs[0].After)
	}
}

func TestDetectRegressions_Memory(t *testing.T) {
	before := resultWith("m", 0, 0)
	before.Performance.Memory.PeakBytes = 1000
	after := resultWith("m", 0, 0)
	after.Performance.Memory.PeakBytes = 1600

	regs := DetectRegressions(before, after, DefaultRegressionThresholds(), time.Now())
	if len(regs) != 1 || regs[0].Type != RegressionMemory || regs[0].Severity != SeverityMajor {
		t.Errorf("expected one major memory regression, got %+v", regs)
	}
}

func TestDetectRegressions_NoPrevious(t *testing.T) {
	if regs := DetectRegressions(nil, resultWith("x", 10, 10), DefaultRegressionThresholds(), time.Now()); regs != nil {
		t.Errorf("expected nil without a previous run, got %+v", regs)
	}
}

func TestCompare_SignificantImprovement(t *testing.T) {
	suite := NewSuite(instantTarget())

	baseline := resultWith("baseline", 100, 200)
	baseline.Summary.TotalRequests = 1000
	current := resultWith("current", 135, 150)
	current.Summary.TotalRequests = 1000

	suite.RecordResult(context.Background(), baseline)
	suite.RecordResult(context.Background(), current)

	report := suite.CompareBenchmarks("baseline", "current")
	if report == nil {
		t.Fatal("expected a report")
	}
	if report.Verdict != VerdictSignificantImprovement {
		t.Errorf("expected %s, got %s", VerdictSignificantImprovement, report.Verdict)
	}

	tp, _ := report.Metric("throughput_rps")
	if math.Abs(tp.Change-35) > 1e-9 || tp.Status != StatusImproved {
		t.Errorf("unexpected throughput delta %+v", tp)
	}
	lat, _ := report.Metric("latency_avg_ms")
	if math.Abs(lat.Change-25) > 1e-9 || lat.Status != StatusImproved {
		t.Errorf("unexpected latency delta %+v", lat)
	}
	if report.Confidence != 1 {
		t.Errorf("expected confidence 1, got %v", report.Confidence)
	}
}

func TestCompare_Verdicts(t *testing.T) {
	tests := []struct {
		name         string
		baseRPS, rps float64
		baseLat, lat float64
		verdict      string
	}{
		{"unchanged", 100, 105, 100, 98, VerdictNoSignificantChange},
		{"improvement", 100, 120, 100, 100, VerdictImprovement},
		{"degradation", 100, 80, 100, 100, VerdictDegradation},
		{"significant degradation", 100, 60, 100, 100, VerdictSignificantDegradation},
		{"mixed", 100, 140, 100, 150, VerdictMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := CompareResults(resultWith("a", tt.baseRPS, tt.baseLat), resultWith("b", tt.rps, tt.lat))
			if report.Verdict != tt.verdict {
				t.Errorf("expected %s, got %s", tt.verdict, report.Verdict)
			}
		})
	}
}

func TestCompare_ErrorRateAndConfidence(t *testing.T) {
	baseline := resultWith("a", 100, 100)
	baseline.Summary.TotalRequests = 100
	current := resultWith("b", 100, 100)
	current.Summary.TotalRequests = 100
	current.Summary.ErrorRate = 10

	report := CompareResults(baseline, current)
	er, _ := report.Metric("error_rate")
	if er.Change != -100 || er.Status != StatusDegraded {
		t.Errorf("errors after a clean baseline should be a full degradation, got %+v", er)
	}
	// min(200/2000, 1) * (1 - 10/200) = 0.095, floored to 0.1
	if report.Confidence != 0.1 {
		t.Errorf("expected confidence floor 0.1, got %v", report.Confidence)
	}
}

func TestCompare_NotFound(t *testing.T) {
	suite := NewSuite(instantTarget())
	suite.RecordResult(context.Background(), resultWith("only", 10, 10))

	if _, err := suite.Compare("only", "missing"); !errors.Is(err, ErrBenchmarkNotFound) {
		t.Errorf("expected ErrBenchmarkNotFound, got %v", err)
	}
	if report := suite.CompareBenchmarks("missing", "only"); report != nil {
		t.Error("expected nil report for a missing baseline")
	}
	if _, err := suite.Compare("only", "only"); !errors.Is(err, ErrBenchmarkNotFound) {
		t.Errorf("same-name compare needs two runs, got %v", err)
	}

	suite.RecordResult(context.Background(), resultWith("only", 20, 10))
	report, err := suite.Compare("only", "only")
	if err != nil {
		t.Fatalf("compare failed: %v", err)
	}
	if report.Metrics[0].Baseline != 10 || report.Metrics[0].Current != 20 {
		t.Errorf("expected previous run as baseline, got %+v", report.Metrics[0])
	}
}

func TestSummarizeLatency(t *testing.T) {
	var latencies []time.Duration
	for i := 100; i >= 1; i-- {
		latencies = append(latencies, time.Duration(i)*time.Millisecond)
	}

	res := SummarizeLatency(latencies)

	if res.Samples != 100 {
		t.Errorf("expected 100 samples, got %d", res.Samples)
	}
	if res.Min != 1 || res.Max != 100 {
		t.Errorf("expected min 1 max 100, got %v/%v", res.Min, res.Max)
	}
	if math.Abs(res.Mean-50.5) > 1e-9 {
		t.Errorf("expected mean 50.5, got %v", res.Mean)
	}
	if res.Percentiles.P50 != 50 || res.Percentiles.P99 != 99 || res.Percentiles.P999 != 100 {
		t.Errorf("unexpected percentiles %+v", res.Percentiles)
	}
	if res.Distribution[0].Count != 99 || res.Distribution[1].Count != 1 {
		t.Errorf("unexpected distribution %+v", res.Distribution)
	}
	if latencies[0] != 100*time.Millisecond {
		t.Error("input must not be reordered")
	}
}

func TestSummarizeLatency_Empty(t *testing.T) {
	res := SummarizeLatency(nil)
	if res.Samples != 0 || res.Mean != 0 {
		t.Errorf("expected zero result, got %+v", res)
	}
	if len(res.Distribution) != 5 {
		t.Errorf("expected 5 buckets, got %d", len(res.Distribution))
	}
}

func TestSummarizeMemory(t *testing.T) {
	res := summarizeMemory([]ResourceSample{
		{HeapAlloc: 1000},
		{HeapAlloc: 3000},
		{HeapAlloc: 1300},
	})
	if res.PeakBytes != 3000 {
		t.Errorf("expected peak 3000, got %d", res.PeakBytes)
	}
	if res.AverageBytes != 1766 {
		t.Errorf("expected average 1766, got %d", res.AverageBytes)
	}
	if math.Abs(res.GrowthRate-30) > 1e-9 {
		t.Errorf("expected 30%% growth, got %v", res.GrowthRate)
	}
	if !res.LeakSuspected {
		t.Error("30% growth should be flagged")
	}
}
