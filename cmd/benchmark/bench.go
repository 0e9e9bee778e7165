package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"time"

	vegeta "github.com/tsenart/vegeta/v12/lib"
	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/internal/store/model"
	"github.com/omniquery/fanout-api/internal/store/sqlite"
)

const (
	mockPort = 9091
	appPort  = 8081
	benchDB  = "bench.db"
)

var unaryResp = []byte(`{"id":"bench-123","model":"bench-model","choices":[{"message":{"content":"Hello from the mock"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":5}}`)

const benchConfig = `
server:
  port: "8081"
store:
  dsn: "bench.db"
cache:
  response_ttl: 0
auth:
  api_keys: ["bench-key-12345"]
providers:
  - id: "bench"
    type: "openai"
    api_key: "sk-bench"
    base_url: "http://localhost:9091"
`

// Drives vegeta against a locally built server that fans out to a mock
// upstream, so the numbers measure gateway overhead rather than any real
// provider.
func main() {
	duration := flag.Duration("duration", 10*time.Second, "Duration of the test")
	rate := flag.Int("rate", 50, "Requests per second")
	flag.Parse()

	go startMockServer()

	seedBenchStore()

	fmt.Println("Building application...")
	buildCmd := exec.Command("go", "build", "-o", "bin/server", "./cmd/server")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		log.Fatalf("Failed to build app: %v", err)
	}

	configFile := "config.yaml"
	if err := os.WriteFile(configFile, []byte(benchConfig), 0o644); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	defer os.Remove(configFile)

	fmt.Println("Starting application...")
	appCmd := exec.Command("./bin/server")
	appCmd.Env = append(os.Environ(), fmt.Sprintf("SERVER_PORT=%d", appPort), "LOG_LEVEL=error")

	logFile, _ := os.Create("bench_server.log")
	defer logFile.Close()
	appCmd.Stdout = logFile
	appCmd.Stderr = logFile

	if err := appCmd.Start(); err != nil {
		log.Fatalf("Failed to start app: %v", err)
	}
	defer func() {
		if appCmd.Process != nil {
			_ = appCmd.Process.Kill()
		}
	}()

	waitForApp(fmt.Sprintf("http://localhost:%d/health", appPort))

	fmt.Printf("Running benchmark: %s duration, %d req/s\n", *duration, *rate)

	body := `{"prompt":"Hello","max_tokens":32,"providers":["bench"]}`
	targeter := func(t *vegeta.Target) error {
		t.Method = "POST"
		t.URL = fmt.Sprintf("http://localhost:%d/v1/aggregate", appPort)
		t.Body = []byte(body)
		t.Header = http.Header{
			"Content-Type":  []string{"application/json"},
			"Authorization": []string{"Bearer bench-key-12345"},
		}
		return nil
	}

	attacker := vegeta.NewAttacker(vegeta.KeepAlive(true))
	var metrics vegeta.Metrics

	for res := range attacker.Attack(targeter, vegeta.Rate{Freq: *rate, Per: time.Second}, *duration, "Benchmark") {
		metrics.Add(res)
	}
	metrics.Close()

	fmt.Println("--------------------------------------------------")
	fmt.Println("99th percentile: ", metrics.Latencies.P99)
	fmt.Println("Mean:            ", metrics.Latencies.Mean)
	fmt.Println("Max:             ", metrics.Latencies.Max)
	fmt.Printf("Success:         %.2f%%\n", metrics.Success*100)
	fmt.Printf("Throughput:      %.2f req/s\n", metrics.Throughput)
	fmt.Println("--------------------------------------------------")

	if len(metrics.Errors) > 0 {
		fmt.Println("Errors (first 5):")
		for i, msg := range metrics.Errors {
			if i >= 5 {
				break
			}
			fmt.Println(msg)
		}
	}

	os.Remove(benchDB)
}

// seedBenchStore points the single bench provider at the mock upstream.
func seedBenchStore() {
	os.Remove(benchDB)

	repo, err := sqlite.NewSQLiteStorage(benchDB, zap.NewNop())
	if err != nil {
		log.Fatalf("Failed to open bench store: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now()

	if err := repo.Providers().Upsert(ctx, &model.ProviderRow{
		ID: "bench", Enabled: true, DefaultModel: "bench-model",
		TimeoutSeconds: 10, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		log.Fatalf("Failed to seed provider: %v", err)
	}
	if err := repo.Models().Upsert(ctx, &model.ModelRow{
		ProviderID: "bench", ModelID: "bench-model", IsActive: true,
		MaxOutputTokens: 1024, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		log.Fatalf("Failed to seed model: %v", err)
	}
}

func startMockServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(unaryResp)
	})

	if err := http.ListenAndServe(fmt.Sprintf(":%d", mockPort), mux); err != nil {
		log.Fatalf("Mock server failed: %v", err)
	}
}

func waitForApp(url string) {
	for i := 0; i < 50; i++ {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	log.Fatal("App did not become ready")
}
