// README: Bench cases; environment checks, the offer/accept flow, the accept race and create throughput.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// state shared by the flow cases, in order
	bookingPath string
	offers      []benchOffer
}

type benchOffer struct {
	DriverID string
	Token    string
	Fare     float64
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: checkPostgres},
		{Name: "Env: Redis connect", Run: checkRedis},
		{Name: "Migration: tables exist", Run: checkTables},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			return expect(r.call(ctx, http.MethodGet, "/health", "", nil), http.StatusOK)
		}},
		{Name: "API: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return expect(r.call(ctx, http.MethodGet, "/api/bookings/1", "", nil), http.StatusUnauthorized)
		}},
		{Name: "Booking: create", Run: createBooking},
		{Name: "Booking: invalid coordinates -> 400", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.PassengerToken == "" {
				return skipNoTokens()
			}
			body := bookingBody()
			body["pickup"] = map[string]any{"lat": 123.0, "lng": 456.0, "address": "nowhere"}
			return expect(r.call(ctx, http.MethodPost, "/api/bookings", r.cfg.PassengerToken, body), http.StatusBadRequest)
		}},
		{Name: "Offer: every driver bids", Run: submitOffers},
		{Name: "Offer: list", Run: listOffers},
		{Name: "Concurrency: accept race has one winner", Run: acceptRace},
		{Name: "Offer: bid after acceptance -> 409", Run: lateOffer},
		{Name: "Cancel: cancel twice is idempotent", Run: cancelTwice},
		{Name: "Perf: booking create throughput", Run: perfCreate},
	}
}

func checkPostgres(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkRedis(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: StatusFail, Note: "redis not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	return Result{Status: StatusPass}
}

func checkTables(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: StatusFail, Note: "db not configured"}
	}
	tables, err := extractTables(r.cfg.MigrationPath)
	if err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	for _, t := range tables {
		var exists bool
		err := r.db.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
			t,
		).Scan(&exists)
		if err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		if !exists {
			return Result{Status: StatusFail, Note: "missing table: " + t}
		}
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("tables=%d", len(tables))}
}

func bookingBody() map[string]any {
	return map[string]any{
		"pickup":          map[string]any{"lat": 25.033, "lng": 121.565, "address": "Taipei 101"},
		"destination":     map[string]any{"lat": 25.0478, "lng": 121.5318, "address": "Taipei Main Station"},
		"passenger_count": 1,
	}
}

func createBooking(ctx context.Context, r *Runner) Result {
	if r.cfg.PassengerToken == "" {
		return skipNoTokens()
	}
	resp := r.call(ctx, http.MethodPost, "/api/bookings", r.cfg.PassengerToken, bookingBody())
	if res := expect(resp, http.StatusCreated); res.Status != StatusPass {
		return res
	}
	var out struct {
		ID              int64    `json:"booking_id"`
		EligibleDrivers []string `json:"eligible_drivers"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	r.bookingPath = "/api/bookings/" + strconv.FormatInt(out.ID, 10)
	return Result{Status: StatusPass, Latency: resp.latency, Note: fmt.Sprintf("id=%d eligible=%d", out.ID, len(out.EligibleDrivers))}
}

func submitOffers(ctx context.Context, r *Runner) Result {
	if r.bookingPath == "" || len(r.cfg.DriverTokens) == 0 {
		return skipNoTokens()
	}
	r.offers = r.offers[:0]
	for i, token := range r.cfg.DriverTokens {
		fare := 300 + float64(10*i)
		resp := r.call(ctx, http.MethodPost, r.bookingPath+"/offers", token, map[string]any{
			"fare":    fare,
			"vehicle": "bench vehicle " + strconv.Itoa(i),
		})
		if res := expect(resp, http.StatusCreated); res.Status != StatusPass {
			return res
		}
		var out struct {
			DriverID string `json:"driver_id"`
		}
		if err := json.Unmarshal(resp.body, &out); err != nil {
			return Result{Status: StatusFail, Note: err.Error()}
		}
		r.offers = append(r.offers, benchOffer{DriverID: out.DriverID, Token: token, Fare: fare})
	}
	return Result{Status: StatusPass, Note: fmt.Sprintf("offers=%d", len(r.offers))}
}

func listOffers(ctx context.Context, r *Runner) Result {
	if r.bookingPath == "" {
		return skipNoTokens()
	}
	resp := r.call(ctx, http.MethodGet, r.bookingPath+"/offers", r.cfg.PassengerToken, nil)
	if res := expect(resp, http.StatusOK); res.Status != StatusPass {
		return res
	}
	var out struct {
		Offers []json.RawMessage `json:"offers"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return Result{Status: StatusFail, Note: err.Error()}
	}
	if len(out.Offers) != len(r.offers) {
		return Result{Status: StatusFail, Note: fmt.Sprintf("listed=%d submitted=%d", len(out.Offers), len(r.offers))}
	}
	return Result{Status: StatusPass, Latency: resp.latency}
}

// acceptRace accepts every pending offer at once; exactly one must win and the rest must see 409.
func acceptRace(ctx context.Context, r *Runner) Result {
	if len(r.offers) < 2 {
		return Result{Status: StatusSkip, Note: "need at least two driver tokens"}
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		won       int
		conflicts int
		other     []int
	)
	start := make(chan struct{})
	for _, o := range r.offers {
		wg.Add(1)
		go func(o benchOffer) {
			defer wg.Done()
			<-start
			resp := r.call(ctx, http.MethodPost, r.bookingPath+"/accept", r.cfg.PassengerToken, map[string]any{
				"driver_id": o.DriverID,
				"fare":      o.Fare,
			})
			mu.Lock()
			defer mu.Unlock()
			switch resp.status {
			case http.StatusOK:
				won++
			case http.StatusConflict:
				conflicts++
			default:
				other = append(other, resp.status)
			}
		}(o)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("won=%d conflicts=%d other=%v", won, conflicts, other)
	if won != 1 || conflicts != len(r.offers)-1 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}

func lateOffer(ctx context.Context, r *Runner) Result {
	if len(r.offers) < 2 {
		return Result{Status: StatusSkip, Note: "need at least two driver tokens"}
	}
	var statuses []int
	for _, o := range r.offers {
		resp := r.call(ctx, http.MethodPost, r.bookingPath+"/offers", o.Token, map[string]any{"fare": o.Fare - 5, "vehicle": "late"})
		statuses = append(statuses, resp.status)
		if resp.status != http.StatusConflict {
			return Result{Status: StatusFail, Note: fmt.Sprintf("statuses=%v", statuses)}
		}
	}
	return Result{Status: StatusPass}
}

func cancelTwice(ctx context.Context, r *Runner) Result {
	if r.bookingPath == "" {
		return skipNoTokens()
	}
	for i := 0; i < 2; i++ {
		resp := r.call(ctx, http.MethodPost, r.bookingPath+"/cancel", r.cfg.PassengerToken, map[string]any{"reason": "bench"})
		if res := expect(resp, http.StatusOK); res.Status != StatusPass {
			res.Note = fmt.Sprintf("attempt %d: %s", i+1, res.Note)
			return res
		}
	}
	return Result{Status: StatusPass}
}

func perfCreate(ctx context.Context, r *Runner) Result {
	if r.cfg.PassengerToken == "" {
		return skipNoTokens()
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount int64
	var mu sync.Mutex
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				resp := r.call(ctx, http.MethodPost, "/api/bookings", r.cfg.PassengerToken, bookingBody())
				mu.Lock()
				if resp.err != nil || resp.status != http.StatusCreated {
					errCount++
				} else {
					count++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("no bookings created, errors=%d", errCount)}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

type response struct {
	status  int
	body    []byte
	latency time.Duration
	err     error
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) response {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return response{err: err}
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{err: err}
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return response{status: resp.StatusCode, body: b, latency: time.Since(start), err: err}
}

func expect(resp response, want int) Result {
	if resp.err != nil {
		return Result{Status: StatusFail, Note: resp.err.Error()}
	}
	note := fmt.Sprintf("status=%d", resp.status)
	if resp.status != want {
		return Result{Status: StatusFail, Latency: resp.latency, Note: note + " body=" + truncate(string(resp.body), 120)}
	}
	return Result{Status: StatusPass, Latency: resp.latency, Note: note}
}

func skipNoTokens() Result {
	return Result{Status: StatusSkip, Note: "set BIDRIDE_BENCH_PASSENGER_TOKEN and BIDRIDE_BENCH_DRIVER_TOKENS"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
