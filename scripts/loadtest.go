//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Run scripts/seed_data.go first: drivers sign in with the seeded accounts.
const seedPassword = "password123"

var baseURL = flag.String("url", "http://localhost:8080", "server base URL")

type Stats struct {
	mu        sync.Mutex
	latencies []time.Duration
	success   int64
	failed    int64
}

func (s *Stats) record(d time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
	if ok {
		s.success++
	} else {
		s.failed++
	}
}

func (s *Stats) print(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		fmt.Printf("%s: no requests\n", name)
		return
	}
	sort.Slice(s.latencies, func(i, j int) bool { return s.latencies[i] < s.latencies[j] })
	p := func(q float64) time.Duration { return s.latencies[int(q*float64(len(s.latencies)-1))] }
	fmt.Printf("%s: %d ok, %d failed, p50 %v, p95 %v, max %v\n",
		name, s.success, s.failed, p(0.50), p(0.95), s.latencies[len(s.latencies)-1])
}

func main() {
	flag.Parse()

	fmt.Println("Campus Rides Load Test")
	fmt.Println("======================")

	fmt.Println("\n1. Signing in...")
	drivers := signInDrivers(10)
	students := signUpStudents(40)
	if len(drivers) == 0 || len(students) == 0 {
		log.Fatal("need at least one verified driver and one student")
	}
	fmt.Printf("%d drivers, %d students\n", len(drivers), len(students))

	fmt.Printf("\n2. Ride requests (%d concurrent students)...\n", len(students))
	create := &Stats{}
	rideIDs := make([]string, len(students))
	var wg sync.WaitGroup
	for i, token := range students {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			status, body, d := call(http.MethodPost, "/v1/rides", token, map[string]string{
				"pickup": "Main Gate", "dropoff": "Shirpur", "requested_time": "09:30",
			})
			create.record(d, status == http.StatusCreated)
			var ride struct {
				ID string `json:"id"`
			}
			if json.Unmarshal(body, &ride) == nil {
				rideIDs[i] = ride.ID
			}
		}(i, token)
	}
	wg.Wait()
	create.print("Create ride")

	fmt.Println("\n3. Accept races (every driver accepts every ride)...")
	accept := &Stats{}
	var won, lost int64
	for _, id := range rideIDs {
		if id == "" {
			continue
		}
		var winners int64
		for _, token := range drivers {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				status, _, d := call(http.MethodPost, "/v1/rides/"+id+"/accept", token, nil)
				accept.record(d, status == http.StatusOK || status == http.StatusConflict)
				switch status {
				case http.StatusOK:
					atomic.AddInt64(&winners, 1)
				case http.StatusConflict:
					atomic.AddInt64(&lost, 1)
				}
			}(token)
		}
		wg.Wait()
		if winners > 1 {
			log.Printf("ride %s accepted by %d drivers", id, winners)
		}
		won += winners
	}
	accept.print("Accept")
	fmt.Printf("Accepted: %d, lost races: %d\n", won, lost)

	fmt.Println("\nLoad test completed!")
}

func signInDrivers(n int) []string {
	var tokens []string
	for i := 0; i < n; i++ {
		status, body, _ := call(http.MethodPost, "/v1/auth/login", "", map[string]string{
			"email": fmt.Sprintf("driver%d@seed.campus.edu", i), "password": seedPassword,
		})
		if status != http.StatusOK {
			continue
		}
		var resp struct {
			Token   string `json:"token"`
			Profile struct {
				IsVerified bool `json:"is_verified"`
			} `json:"profile"`
		}
		if json.Unmarshal(body, &resp) == nil && resp.Profile.IsVerified {
			tokens = append(tokens, resp.Token)
		}
	}
	return tokens
}

func signUpStudents(n int) []string {
	var tokens []string
	run := time.Now().UnixNano()
	for i := 0; i < n; i++ {
		status, body, _ := call(http.MethodPost, "/v1/auth/signup", "", map[string]string{
			"email":    fmt.Sprintf("load%d-%d@campus.edu", run, i),
			"password": seedPassword,
			"role":     "student",
		})
		if status != http.StatusCreated {
			continue
		}
		var resp struct {
			Token string `json:"token"`
		}
		if json.Unmarshal(body, &resp) == nil {
			tokens = append(tokens, resp.Token)
		}
	}
	return tokens
}

func call(method, path, token string, payload interface{}) (int, []byte, time.Duration) {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, *baseURL+path, body)
	if err != nil {
		return 0, nil, 0
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, nil, elapsed
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, elapsed
}
