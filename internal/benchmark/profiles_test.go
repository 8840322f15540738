package benchmark

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefaultProfiles(t *testing.T) {
	profiles := DefaultProfiles()

	for _, name := range []string{"quick", "standard", "stress", "endurance"} {
		cfg, ok := profiles[name]
		if !ok {
			t.Errorf("missing profile %s", name)
			continue
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			t.Errorf("profile %s invalid: %v", name, err)
		}
	}
	if profiles["endurance"].MaxDuration != 30*time.Minute {
		t.Errorf("expected endurance max duration 30m, got %s", profiles["endurance"].MaxDuration)
	}
}

func TestLoadProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	data := `profiles:
  nightly:
    description: nightly regression run
    iterations: 2000
    concurrency: 8
    max_duration: 10m
    scenarios: [list, get, create]
  smoke:
    iterations: 20
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("load profiles: %v", err)
	}
	nightly := profiles["nightly"]
	if nightly.Name != "nightly" || nightly.Iterations != 2000 || nightly.Concurrency != 8 {
		t.Errorf("unexpected nightly profile %+v", nightly)
	}
	if nightly.MaxDuration != 10*time.Minute {
		t.Errorf("expected 10m, got %s", nightly.MaxDuration)
	}
	if len(nightly.Scenarios) != 3 {
		t.Errorf("expected 3 scenarios, got %v", nightly.Scenarios)
	}

	smoke := profiles["smoke"]
	if smoke.Concurrency != 1 || len(smoke.TargetEntities) == 0 {
		t.Errorf("expected defaults applied to smoke, got %+v", smoke)
	}
}

func TestParseProfiles_Invalid(t *testing.T) {
	tests := map[string]string{
		"bad duration":  "profiles:\n  x:\n    max_duration: soon\n",
		"bad scenario":  "profiles:\n  x:\n    scenarios: [teleport]\n",
		"bad yaml":      "profiles: [",
		"unknown field": "profiles:\n  x:\n    iterationz: 5\n",
		"wrong type":    "profiles:\n  x:\n    iterations: many\n",
		"negative":      "profiles:\n  x:\n    concurrency: -2\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseProfiles([]byte(data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseProfiles_SchemaErrorIsInvalidConfig(t *testing.T) {
	_, err := ParseProfiles([]byte("profiles:\n  x:\n    scenarios: [teleport]\n"))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if !strings.Contains(err.Error(), "scenarios") {
		t.Errorf("expected the failing field in %q", err)
	}
}

func TestParseProfiles_Empty(t *testing.T) {
	profiles, err := ParseProfiles(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 0 {
		t.Errorf("expected no profiles, got %d", len(profiles))
	}
}

func TestReport_Text(t *testing.T) {
	r := resultWith("report", 123.4, 12.5)
	r.Summary.TotalRequests = 100
	r.Summary.SuccessfulRequests = 95
	r.Summary.FailedRequests = 5
	r.Summary.ErrorRate = 5
	r.Summary.Synthesized = true
	r.Endpoints = map[string]EndpointResult{
		"GET:/companies/1": {Endpoint: "GET:/companies/1", Requests: 10, MeanLatency: 3},
	}
	r.Recommendations = []string{"do something"}
	regs := []Regression{{Type: RegressionLatency, Severity: SeverityMajor, Impact: "mean latency rose"}}

	text := NewReport(r, regs).Text()

	for _, want := range []string{
		"Benchmark Report",
		"Name: report",
		"Requests/sec: 123.40",
		"(estimated)",
		"GET:/companies/1",
		"[MAJOR] latency: mean latency rose",
		"- do something",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestReport_YAML(t *testing.T) {
	r := resultWith("yaml", 50, 5)
	out, err := NewReport(r, nil).YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal(out, &decoded); err != nil {
		t.Fatalf("output is not valid yaml: %v", err)
	}
	if !strings.Contains(string(out), "requests_per_second: 50") {
		t.Errorf("expected json field names in yaml output:\n%s", out)
	}
}

func TestComparisonReport_Text(t *testing.T) {
	report := CompareResults(resultWith("a", 100, 200), resultWith("b", 135, 150))
	text := report.Text()
	if !strings.Contains(text, "throughput_rps") || !strings.Contains(text, "Verdict: significant_improvement") {
		t.Errorf("unexpected comparison text:\n%s", text)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:             "512 B",
		2048:            "2.0 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
