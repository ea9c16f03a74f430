// simulate fires concurrent booking requests at one (provider, date, time)
// slot and checks that exactly one wins while every other caller gets a
// slot_taken conflict.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-scheduling/internal/db"
)

type result struct {
	status  int
	latency time.Duration
}

func main() {
	log.SetFlags(log.LstdFlags)

	var (
		baseURL    = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers    = flag.Int("workers", 25, "concurrent booking attempts")
		providerID = flag.String("provider-id", "", "provider to contend on (default: random from DB)")
		serviceID  = flag.String("service-id", "", "service to book (default: random from DB)")
		date       = flag.String("date", time.Now().AddDate(0, 0, 7).Format("2006-01-02"), "slot date")
		startTime  = flag.String("start-time", "09:00", "slot start time")
	)
	flag.Parse()

	provider, service := resolveTargets(*providerID, *serviceID)

	log.Printf("racing %d workers for provider=%s date=%s start=%s", *workers, provider, *date, *startTime)

	client := &http.Client{Timeout: 10 * time.Second}
	results := make([]result, *workers)

	var inFlight sync.WaitGroup
	var started atomic.Int32
	gate := make(chan struct{})

	for i := 0; i < *workers; i++ {
		inFlight.Add(1)
		go func(n int) {
			defer inFlight.Done()

			body, _ := json.Marshal(map[string]string{
				"provider_id":    provider,
				"service_id":     service,
				"date":           *date,
				"start_time":     *startTime,
				"payment_method": "clinic",
			})

			req, err := http.NewRequest(http.MethodPost, *baseURL+"/appointments", bytes.NewReader(body))
			if err != nil {
				log.Fatalf("build request: %v", err)
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Actor-ID", uuid.NewString())
			req.Header.Set("X-Actor-Role", "patient")

			started.Add(1)
			<-gate // all workers release together

			start := time.Now()
			resp, err := client.Do(req)
			if err != nil {
				log.Printf("worker %d: request error: %v", n, err)
				results[n] = result{status: -1}
				return
			}
			resp.Body.Close()
			results[n] = result{status: resp.StatusCode, latency: time.Since(start)}
		}(i)
	}

	for int(started.Load()) < *workers {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	inFlight.Wait()

	var created, conflict, other int
	for _, r := range results {
		switch r.status {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflict++
		default:
			other++
		}
	}

	fmt.Printf("\nresults: created=%d conflict=%d other=%d\n", created, conflict, other)

	if created != 1 || conflict != *workers-1 {
		fmt.Println("FAIL: expected exactly one winner and all other workers conflicted")
		os.Exit(1)
	}
	fmt.Println("PASS: exactly one booking won the slot")
}

// resolveTargets picks a provider and service from the database when none
// were supplied on the command line.
func resolveTargets(provider, service string) (string, string) {
	if provider != "" && service != "" {
		return provider, service
	}

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required when provider-id/service-id are not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if provider == "" {
		var id uuid.UUID
		if err := pool.QueryRow(ctx, `SELECT id FROM providers WHERE available ORDER BY random() LIMIT 1`).Scan(&id); err != nil {
			log.Fatalf("pick provider: %v", err)
		}
		provider = id.String()
	}
	if service == "" {
		var id uuid.UUID
		if err := pool.QueryRow(ctx, `SELECT id FROM services ORDER BY random() LIMIT 1`).Scan(&id); err != nil {
			log.Fatalf("pick service: %v", err)
		}
		service = id.String()
	}

	return provider, service
}
