package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type metricPoint struct {
	Value  float64 `json:"value"`
	Status string  `json:"status"`
}

type historySample struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Status    string    `json:"status"`
}

type recommendation struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/heal/metrics/summary", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"metrics": map[string]metricPoint{
				"cpu_usage_percent":    {Value: 40 + rand.Float64()*55, Status: "healthy"},
				"memory_usage_percent": {Value: 50 + rand.Float64()*40, Status: "healthy"},
				"disk_usage_percent":   {Value: 30 + rand.Float64()*20, Status: "healthy"},
				"response_time_ms":     {Value: 200 + rand.Float64()*2500, Status: "healthy"},
				"error_rate_percent":   {Value: rand.Float64() * 7, Status: "healthy"},
				"api_health":           {Value: 1.0, Status: "healthy"},
				"payments_health":      {Value: 1.0, Status: "healthy"},
				"inventory_health":     {Value: 1.0, Status: "warning"},
			},
		})
	})

	mux.HandleFunc("/api/v1/heal/metrics/history", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		samples := make([]historySample, 0, 12)
		for i := 11; i >= 0; i-- {
			samples = append(samples, historySample{
				Timestamp: time.Now().Add(-time.Duration(i) * 5 * time.Minute),
				Value:     45 + rand.Float64()*20,
				Status:    "healthy",
			})
		}
		writeJSON(w, map[string]any{"samples": samples})
	})

	mux.HandleFunc("/api/v1/heal/errors", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"error_rate": rand.Float64() * 3,
			"categories": map[string]int{
				"configuration": rand.Intn(8),
				"timeout":       rand.Intn(4),
			},
		})
	})

	mux.HandleFunc("/api/v1/heal/recommendations", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{
			"recommendations": []recommendation{
				{Type: "index_rebuild", Priority: "high"},
				{Type: "connection_pool_tuning", Priority: "low"},
			},
		})
	})

	logger := log.New(log.Writer(), "core-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func enforceGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
