package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/egovportal/internal/auth"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	jwtSecret   string
	audience    string
	adminID     string
)

// Metrics
var (
	totalRequests uint64
	submitted     uint64 // 201 on submit
	tracked       uint64 // 200 on track
	transitioned  uint64 // 200 on transition
	conflicts     uint64 // 409 from racing transitions
	throttled     uint64 // 429
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "citizen", "Workload type: citizen | contention")
	flag.StringVar(&jwtSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "Secret used to mint test tokens")
	flag.StringVar(&audience, "audience", "authenticated", "Token audience")
	flag.StringVar(&adminID, "admin", "", "User id holding super_admin, required for the contention workload")
}

func main() {
	flag.Parse()
	if jwtSecret == "" {
		log.Fatal("-jwt-secret or JWT_SECRET is required")
	}
	if workload == "contention" && adminID == "" {
		log.Fatal("-admin is required for the contention workload")
	}

	services := fetchServiceIDs()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Services: %d", workload, concurrency, duration, len(services))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, services)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func fetchServiceIDs() []string {
	resp, err := http.Get(targetURL + "/api/v1/services")
	if err != nil {
		log.Fatalf("catalog fetch failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || len(body.Items) == 0 {
		log.Fatalf("catalog is empty or unreadable; run the seeder first")
	}
	ids := make([]string, 0, len(body.Items))
	for _, item := range body.Items {
		ids = append(ids, item.ID)
	}
	return ids
}

func mintToken(userID string) string {
	token, err := auth.Issue(jwtSecret, audience, userID, time.Now(), 2*duration+time.Minute)
	if err != nil {
		log.Fatalf("token mint failed: %v", err)
	}
	return token
}

func worker(wg *sync.WaitGroup, start time.Time, services []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	// Each worker is one citizen for the whole run
	citizen := mintToken(uuid.NewString())
	var admin string
	if workload == "contention" {
		admin = mintToken(adminID)
	}

	for time.Since(start) < duration {
		payload := map[string]interface{}{
			"service_id":     services[rand.Intn(len(services))],
			"payment_method": []string{"card", "upi", "net_banking"}[rand.Intn(3)],
		}
		status, body := send(client, http.MethodPost, "/api/v1/requests", citizen, payload)
		if status != http.StatusCreated {
			continue
		}
		atomic.AddUint64(&submitted, 1)

		var created struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(body, &created); err != nil {
			continue
		}

		if status, _ := send(client, http.MethodGet, "/api/v1/track/"+created.ID, "", nil); status == http.StatusOK {
			atomic.AddUint64(&tracked, 1)
		}

		if workload == "contention" {
			// Two racing decisions on the same request; exactly one should win
			var race sync.WaitGroup
			race.Add(2)
			for _, target := range []map[string]interface{}{
				{"status": "approved"},
				{"status": "rejected", "remarks": "benchmark"},
			} {
				go func(target map[string]interface{}) {
					defer race.Done()
					status, _ := send(client, http.MethodPost, "/api/v1/requests/"+created.ID+"/transitions", admin, target)
					if status == http.StatusOK {
						atomic.AddUint64(&transitioned, 1)
					}
				}(target)
			}
			race.Wait()
		}
	}
}

func send(client *http.Client, method, path, token string, payload interface{}) (int, []byte) {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}
	req, _ := http.NewRequest(method, targetURL+path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		atomic.AddUint64(&failOther, 1)
		return 0, nil
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	switch {
	case resp.StatusCode == http.StatusConflict:
		atomic.AddUint64(&conflicts, 1)
	case resp.StatusCode == http.StatusTooManyRequests:
		atomic.AddUint64(&throttled, 1)
	case resp.StatusCode >= 400:
		atomic.AddUint64(&failOther, 1)
	}
	return resp.StatusCode, buf.Bytes()
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	sub := atomic.LoadUint64(&submitted)

	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_rps":   float64(total) / d.Seconds(),
		"submitted":        sub,
		"tracked":          atomic.LoadUint64(&tracked),
		"transitioned":     atomic.LoadUint64(&transitioned),
		"conflicts":        atomic.LoadUint64(&conflicts),
		"throttled":        atomic.LoadUint64(&throttled),
		"errors":           atomic.LoadUint64(&failOther),
		"submit_rate_rps":  float64(sub) / d.Seconds(),
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
