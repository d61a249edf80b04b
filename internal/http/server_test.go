// README: End-to-end route tests over in-memory stores.
package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	httptransport "bidride/internal/http"
	"bidride/internal/infra"
	"bidride/internal/modules/booking"
	"bidride/internal/modules/drivers"
	"bidride/internal/modules/rating"
	"bidride/internal/notify"
	"bidride/internal/types"
)

// tokenVerifier accepts tokens of the form "<role>:<uid>".
type tokenVerifier struct{}

func (tokenVerifier) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	role, uid, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("malformed token")
	}
	return &infra.FirebaseToken{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

type nearbyDrivers []types.UserID

func (n nearbyDrivers) Eligible(context.Context, types.Point, int) ([]types.UserID, error) {
	return n, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []notify.Kind
}

func (r *recordingNotifier) Dispatch(in notify.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds = append(r.kinds, in.Kind)
}

func (r *recordingNotifier) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range r.kinds {
		if k == kind {
			n++
		}
	}
	return n
}

type fakePresence struct {
	mu      sync.Mutex
	online  map[types.UserID]drivers.Presence
	devices map[types.UserID]string
}

func (f *fakePresence) UpdatePresence(_ context.Context, p drivers.Presence) error {
	if p.Seats < 1 {
		return drivers.ErrInvalidPresence
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[p.DriverID] = p
	return nil
}

func (f *fakePresence) GoOffline(_ context.Context, id types.UserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, id)
	return nil
}

func (f *fakePresence) RegisterDevice(_ context.Context, id types.UserID, token string) error {
	if token == "" {
		return drivers.ErrInvalidPresence
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices[id] = token
	return nil
}

type testAPI struct {
	handler  http.Handler
	notifier *recordingNotifier
	presence *fakePresence
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := booking.NewMemoryStore()
	notifier := &recordingNotifier{}
	registry := booking.NewRegistry(store, nearbyDrivers{"d1", "d2"}, nil)
	presence := &fakePresence{online: map[types.UserID]drivers.Presence{}, devices: map[types.UserID]string{}}
	srv := httptransport.NewServer(httptransport.ServerDeps{
		Registry:  registry,
		Offers:    booking.NewOfferBook(store, notifier, nil, nil),
		Lifecycle: booking.NewLifecycle(store, notifier, nil, nil),
		Ratings:   rating.NewService(rating.NewMemoryStore(), registry, notifier, nil),
		Drivers:   presence,
		Notifier:  notifier,
		Verifier:  tokenVerifier{},
	})
	return &testAPI{handler: srv.Routes(), notifier: notifier, presence: presence}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	return w
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

var createBody = map[string]any{
	"pickup":          map[string]any{"lat": 25.00, "lng": 62.30, "address": "Gwadar Port"},
	"destination":     map[string]any{"lat": 25.10, "lng": 62.40, "address": "Gwadar Airport"},
	"passenger_count": 2,
}

func (a *testAPI) createBooking(t *testing.T) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/bookings", "passenger:p1", createBody)
	expectStatus(t, w, http.StatusCreated)
	resp := decode[struct {
		ID              int64    `json:"booking_id"`
		Ref             string   `json:"external_reference"`
		Status          string   `json:"status"`
		EligibleDrivers []string `json:"eligible_drivers"`
	}](t, w)
	if resp.Status != "requested" || !strings.HasPrefix(resp.Ref, "BK-") || len(resp.EligibleDrivers) != 2 {
		t.Fatalf("unexpected create response %+v", resp)
	}
	return "/api/bookings/" + strconv.FormatInt(resp.ID, 10)
}

func TestHealthAndAuth(t *testing.T) {
	a := newTestAPI(t)
	expectStatus(t, a.do(t, http.MethodGet, "/health", "", nil), http.StatusOK)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/1", "", nil), http.StatusUnauthorized)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/1", "garbage", nil), http.StatusUnauthorized)
}

func TestBookingNegotiationOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	base := a.createBooking(t)
	if a.notifier.count(notify.KindBookingRequested) != 1 {
		t.Fatalf("expected booking_requested fan-out")
	}

	expectStatus(t, a.do(t, http.MethodPost, base+"/offers", "passenger:p2", map[string]any{"fare": 400, "vehicle": "Sedan"}), http.StatusForbidden)
	expectStatus(t, a.do(t, http.MethodPost, base+"/offers", "driver:d1", map[string]any{"fare": 500, "vehicle": "White Corolla"}), http.StatusCreated)
	w := a.do(t, http.MethodPost, base+"/offers", "driver:d2", map[string]any{"fare": 450, "vehicle": "Blue Civic"})
	expectStatus(t, w, http.StatusCreated)
	offer := decode[struct {
		Status string `json:"status"`
		Fare   struct {
			Amount   float64 `json:"amount"`
			Currency string  `json:"currency"`
		} `json:"fare"`
	}](t, w)
	if offer.Status != "pending" || offer.Fare.Amount != 450 || offer.Fare.Currency != types.DefaultCurrency {
		t.Fatalf("unexpected offer %+v", offer)
	}

	list := decode[struct {
		Offers []struct {
			DriverID string `json:"driver_id"`
		} `json:"offers"`
	}](t, a.do(t, http.MethodGet, base+"/offers", "passenger:p1", nil))
	if len(list.Offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(list.Offers))
	}

	expectStatus(t, a.do(t, http.MethodPost, base+"/accept", "passenger:p1", map[string]any{"driver_id": "d2", "fare": 999}), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodPost, base+"/accept", "passenger:p9", map[string]any{"driver_id": "d2", "fare": 450}), http.StatusForbidden)

	w = a.do(t, http.MethodPost, base+"/accept", "passenger:p1", map[string]any{"driver_id": "d2", "fare": 450})
	expectStatus(t, w, http.StatusOK)
	accepted := decode[struct {
		Status   string   `json:"status"`
		DriverID string   `json:"driver_id"`
		Rejected []string `json:"rejected_drivers"`
	}](t, w)
	if accepted.Status != "accepted" || accepted.DriverID != "d2" || len(accepted.Rejected) != 1 || accepted.Rejected[0] != "d1" {
		t.Fatalf("unexpected accept response %+v", accepted)
	}

	w = a.do(t, http.MethodPost, base+"/accept", "passenger:p1", map[string]any{"driver_id": "d1", "fare": 500})
	expectStatus(t, w, http.StatusConflict)
	conflict := decode[struct {
		AlreadyAcceptedBy *string `json:"already_accepted_by"`
	}](t, w)
	if conflict.AlreadyAcceptedBy == nil || *conflict.AlreadyAcceptedBy != "d2" {
		t.Fatalf("expected already_accepted_by d2, got %s", w.Body.String())
	}
	expectStatus(t, a.do(t, http.MethodPost, base+"/offers", "driver:d1", map[string]any{"fare": 420, "vehicle": "White Corolla"}), http.StatusConflict)

	expectStatus(t, a.do(t, http.MethodPost, base+"/start", "driver:d2", nil), http.StatusUnprocessableEntity)
	expectStatus(t, a.do(t, http.MethodPost, base+"/arrive", "driver:d1", nil), http.StatusForbidden)
	for _, step := range []string{"/arrive", "/start", "/complete"} {
		expectStatus(t, a.do(t, http.MethodPost, base+step, "driver:d2", nil), http.StatusOK)
	}
	got := decode[struct {
		Status        string `json:"status"`
		CommittedFare struct {
			Amount float64 `json:"amount"`
		} `json:"committed_fare"`
	}](t, a.do(t, http.MethodGet, base, "passenger:p1", nil))
	if got.Status != "completed" || got.CommittedFare.Amount != 450 {
		t.Fatalf("unexpected booking %+v", got)
	}

	expectStatus(t, a.do(t, http.MethodPost, base+"/cancel", "passenger:p1", nil), http.StatusUnprocessableEntity)

	expectStatus(t, a.do(t, http.MethodPost, base+"/ratings", "passenger:p1", map[string]any{"rated_id": "d2", "score": 5, "comment": "smooth"}), http.StatusCreated)
	expectStatus(t, a.do(t, http.MethodPost, base+"/ratings", "passenger:p1", map[string]any{"rated_id": "d2", "score": 4}), http.StatusConflict)
	expectStatus(t, a.do(t, http.MethodPost, base+"/ratings", "driver:d2", map[string]any{"rated_id": "p1", "score": 7}), http.StatusBadRequest)

	avg := decode[struct {
		Average float64 `json:"average"`
		Count   int     `json:"count"`
	}](t, a.do(t, http.MethodGet, "/api/users/d2/rating", "passenger:p1", nil))
	if avg.Average != 5 || avg.Count != 1 {
		t.Fatalf("unexpected average %+v", avg)
	}

	events := decode[struct {
		Events []struct {
			To string `json:"to"`
		} `json:"events"`
	}](t, a.do(t, http.MethodGet, base+"/events", "driver:d2", nil))
	if n := len(events.Events); n != 6 {
		t.Fatalf("expected 6 audit events, got %d", n)
	}
	expectStatus(t, a.do(t, http.MethodGet, base+"/events", "driver:d1", nil), http.StatusForbidden)
}

func TestCancelOverHTTP(t *testing.T) {
	a := newTestAPI(t)
	base := a.createBooking(t)

	expectStatus(t, a.do(t, http.MethodPost, base+"/cancel", "passenger:p2", nil), http.StatusForbidden)
	w := a.do(t, http.MethodPost, base+"/cancel", "passenger:p1", map[string]any{"reason": "plans changed"})
	expectStatus(t, w, http.StatusOK)
	b := decode[struct {
		Status       string `json:"status"`
		CancelReason string `json:"cancel_reason"`
	}](t, w)
	if b.Status != "canceled" || b.CancelReason != "plans changed" {
		t.Fatalf("unexpected booking %+v", b)
	}
	expectStatus(t, a.do(t, http.MethodPost, base+"/cancel", "passenger:p1", nil), http.StatusOK)
	expectStatus(t, a.do(t, http.MethodPost, base+"/offers", "driver:d1", map[string]any{"fare": 300, "vehicle": "Sedan"}), http.StatusUnprocessableEntity)
}

func TestBadRequests(t *testing.T) {
	a := newTestAPI(t)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/abc", "passenger:p1", nil), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/0", "passenger:p1", nil), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/999", "passenger:p1", nil), http.StatusNotFound)
	expectStatus(t, a.do(t, http.MethodGet, "/api/bookings/999/offers", "passenger:p1", nil), http.StatusNotFound)
	expectStatus(t, a.do(t, http.MethodPost, "/api/bookings", "driver:d1", createBody), http.StatusForbidden)

	invalid := map[string]any{
		"pickup":          map[string]any{"lat": 95, "lng": 62.30, "address": "Nowhere"},
		"destination":     map[string]any{"lat": 25.10, "lng": 62.40, "address": "Gwadar Airport"},
		"passenger_count": 1,
	}
	expectStatus(t, a.do(t, http.MethodPost, "/api/bookings", "passenger:p1", invalid), http.StatusBadRequest)

	req := httptest.NewRequest(http.MethodPost, "/api/bookings", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer passenger:p1")
	w := httptest.NewRecorder()
	a.handler.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestPresenceRoutes(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{"lat": 25.0, "lng": 62.3, "seats": 4, "vehicle": "Van"}

	expectStatus(t, a.do(t, http.MethodPut, "/api/drivers/me/presence", "passenger:p1", body), http.StatusForbidden)
	expectStatus(t, a.do(t, http.MethodPut, "/api/drivers/me/presence", "driver:d1", body), http.StatusOK)
	if _, ok := a.presence.online["d1"]; !ok {
		t.Fatalf("presence not recorded")
	}
	expectStatus(t, a.do(t, http.MethodPut, "/api/drivers/me/presence", "driver:d1", map[string]any{"lat": 25.0, "lng": 62.3}), http.StatusBadRequest)
	expectStatus(t, a.do(t, http.MethodDelete, "/api/drivers/me/presence", "driver:d1", nil), http.StatusNoContent)
	if _, ok := a.presence.online["d1"]; ok {
		t.Fatalf("driver still online")
	}

	expectStatus(t, a.do(t, http.MethodPut, "/api/devices/me", "passenger:p1", map[string]any{"token": "fcm-abc"}), http.StatusNoContent)
	if a.presence.devices["p1"] != "fcm-abc" {
		t.Fatalf("device token not stored")
	}
	expectStatus(t, a.do(t, http.MethodPut, "/api/devices/me", "passenger:p1", map[string]any{"token": ""}), http.StatusBadRequest)
}
