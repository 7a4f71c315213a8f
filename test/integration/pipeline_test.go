// Package integration exercises the medscan HTTP surface end to end with
// in-memory stores, a fake extractor and miniredis.
package integration

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsnap/rxscan/internal/api"
	"github.com/medsnap/rxscan/internal/api/handlers"
	"github.com/medsnap/rxscan/internal/domain/medicine"
	"github.com/medsnap/rxscan/internal/domain/prescription"
	"github.com/medsnap/rxscan/internal/domain/reminder"
	"github.com/medsnap/rxscan/internal/druginfo"
	"github.com/medsnap/rxscan/internal/extraction"
	"github.com/medsnap/rxscan/internal/notify"
	"github.com/medsnap/rxscan/internal/observability/metrics"
	"github.com/medsnap/rxscan/internal/scan"
	"github.com/medsnap/rxscan/pkg/circuitbreaker"
	"github.com/medsnap/rxscan/pkg/workerpool"
)

const (
	apiKey = "test-key"
	userID = "patient-42"
)

const extractionJSON = `{
	"medicines": [
		{"name": " Amoxicillin ", "dosage": "500mg", "frequency": "Twice daily", "duration": "7 days"},
		{"name": "Atorvastatin", "dosage": "20mg", "frequency": "at bedtime"},
		{"dosage": "10ml"}
	],
	"confidence": "87.6",
	"rawText": "Rx: Amoxicillin 500mg BID"
}`

type fakeExtractor struct {
	calls int
}

func (f *fakeExtractor) Extract(_ context.Context, _ *extraction.Image) (*medicine.RawExtraction, error) {
	f.calls++
	var raw medicine.RawExtraction
	if err := json.Unmarshal([]byte(extractionJSON), &raw); err != nil {
		return nil, err
	}
	return &raw, nil
}

// memoryStore keeps prescriptions in memory and serves their medicines to
// the reminder service.
type memoryStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*prescription.Prescription
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byID: make(map[uuid.UUID]*prescription.Prescription)}
}

func (s *memoryStore) Save(_ context.Context, p *prescription.Prescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.CreatedAt = time.Now().UTC()
	s.byID[p.ID] = p
	return nil
}

func (s *memoryStore) List(_ context.Context, user string) ([]*prescription.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*prescription.Prescription
	for _, p := range s.byID {
		if p.UserID == user {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanDate.After(out[j].ScanDate) })
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, user string, id uuid.UUID) (*prescription.Prescription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || p.UserID != user {
		return nil, prescription.ErrNotFound
	}
	return p, nil
}

func (s *memoryStore) Delete(_ context.Context, user string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byID[id]
	if !ok || p.UserID != user {
		return prescription.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *memoryStore) ListMedicines(ctx context.Context, user string) ([]medicine.Medicine, error) {
	list, _ := s.List(ctx, user)
	var meds []medicine.Medicine
	for _, p := range list {
		meds = append(meds, p.Medicines...)
	}
	return meds, nil
}

type labelSource struct{}

func (labelSource) Name() string { return "openfda" }

func (labelSource) Lookup(_ context.Context, name string) (*druginfo.DrugInfo, error) {
	if druginfo.CacheKey(name) != "amoxicillin" {
		return nil, nil
	}
	return &druginfo.DrugInfo{
		Validated:   true,
		BrandName:   "Amoxil",
		GenericName: "amoxicillin",
		FDAApproved: true,
		Source:      "openfda",
	}, nil
}

type recordingSender struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (s *recordingSender) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return nil
}

type harness struct {
	server    *httptest.Server
	store     *memoryStore
	extractor *fakeExtractor
	scheduler *notify.Scheduler
}

// The reminder date is far enough ahead that scheduled timers never fire
// while the test runs.
var (
	reminderDate = "2099-03-10"
	serviceNow   = time.Date(2099, 3, 10, 8, 0, 0, 0, time.UTC)
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	m := metrics.New(nil)
	breakers := circuitbreaker.NewManager(nil, m)
	cb, err := breakers.GetOrCreate("gemini", circuitbreaker.DefaultConfig("gemini"))
	require.NoError(t, err)

	extractor := &fakeExtractor{}
	scanner := scan.NewService(extractor, nil, scan.WithBreaker(cb), scan.WithObserver(m))

	store := newMemoryStore()
	scheduler := notify.NewScheduler(&recordingSender{}, nil)
	t.Cleanup(scheduler.Stop)

	reminders := reminder.NewService(store,
		reminder.NewRedisStateStore(rdb, time.Hour),
		scheduler, nil,
		reminder.WithObserver(m),
		reminder.WithClock(func() time.Time { return serviceNow }),
	)

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = 2
	poolCfg.MaxRetries = 0
	validator, err := druginfo.NewValidator([]druginfo.Source{labelSource{}}, poolCfg, nil,
		druginfo.WithCache(druginfo.NewRedisCache(rdb, time.Hour)),
		druginfo.WithBreakers(breakers),
		druginfo.WithObserver(m),
	)
	require.NoError(t, err)
	t.Cleanup(func() { validator.Close() })

	router := api.NewRouter(api.Deps{
		Scanner:       scanner,
		Prescriptions: store,
		Reminders:     handlers.NewReminderHandler(reminders, time.UTC, nil),
		Validator:     validator,
		Health: handlers.NewHealthHandler(map[string]handlers.Check{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}, breakers),
		Metrics:     m,
		APIKeys:     map[string]string{apiKey: userID},
		ServiceName: "medscan-api-test",
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &harness{server: srv, store: store, extractor: extractor, scheduler: scheduler}
}

func (h *harness) call(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := h.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	return resp, []byte(buf.String())
}

func TestScanSaveAndRemind(t *testing.T) {
	h := newHarness(t)
	image := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))

	// Scan
	resp, body := h.call(t, http.MethodPost, "/api/v1/scan", map[string]string{"image": image})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var result medicine.ScanResult
	require.NoError(t, json.Unmarshal(body, &result))
	assert.Equal(t, 88, result.Confidence)
	require.Len(t, result.Medicines, 3)
	assert.Equal(t, "Amoxicillin", result.Medicines[0].Name)
	assert.Equal(t, medicine.DefaultName, result.Medicines[2].Name)
	for i, m := range result.Medicines {
		assert.Equal(t, i+1, m.ID)
	}
	assert.Equal(t, 1, h.extractor.calls)

	// Save the scan as a prescription
	resp, body = h.call(t, http.MethodPost, "/api/v1/prescriptions", map[string]any{
		"medicines":  result.Records()[:2],
		"confidence": result.Confidence,
		"rawText":    result.RawText,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var saved prescription.Prescription
	require.NoError(t, json.Unmarshal(body, &saved))
	assert.Equal(t, userID, saved.UserID)
	assert.Len(t, saved.Medicines, 2)

	resp, body = h.call(t, http.MethodGet, "/api/v1/prescriptions/"+saved.ID.String(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Reminders derived from the stored medicines
	resp, body = h.call(t, http.MethodGet, "/api/v1/reminders?date="+reminderDate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var day reminder.Day
	require.NoError(t, json.Unmarshal(body, &day))
	require.Len(t, day.Slots, 2)
	assert.Equal(t, "9:00 AM", day.Slots[0].Time)
	assert.Equal(t, []string{"Amoxicillin 500mg"}, day.Slots[0].Medicines)
	assert.Equal(t, "9:00 PM", day.Slots[1].Time)
	assert.Equal(t, []string{"Amoxicillin 500mg", "Atorvastatin 20mg"}, day.Slots[1].Medicines)
	assert.Equal(t, 0, day.Completed)

	// Turn on the evening notification
	resp, body = h.call(t, http.MethodPut, "/api/v1/reminders/"+reminderDate+"/21:00/notification",
		map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	pending := h.scheduler.Pending(userID)
	require.Len(t, pending, 1)
	assert.Equal(t, "9:00 PM", pending[0].Time)
	assert.Equal(t, time.Date(2099, 3, 10, 21, 0, 0, 0, time.UTC), pending[0].FireAt.UTC())

	// Taking the dose cancels it
	resp, body = h.call(t, http.MethodPost, "/api/v1/reminders/"+reminderDate+"/21:00/taken", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var slot reminder.Slot
	require.NoError(t, json.Unmarshal(body, &slot))
	assert.True(t, slot.Taken)
	assert.False(t, slot.NotificationEnabled)
	assert.Empty(t, h.scheduler.Pending(userID))

	resp, body = h.call(t, http.MethodGet, "/api/v1/reminders?date="+reminderDate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &day))
	assert.Equal(t, 1, day.Completed)
	assert.Equal(t, 2, day.Total)

	// A taken slot cannot be re-enabled
	resp, _ = h.call(t, http.MethodPut, "/api/v1/reminders/"+reminderDate+"/21:00/notification",
		map[string]bool{"enabled": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// No medicines are due at noon
	resp, _ = h.call(t, http.MethodPost, "/api/v1/reminders/"+reminderDate+"/12:00/taken", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Deleting the prescription empties the day
	resp, _ = h.call(t, http.MethodDelete, "/api/v1/prescriptions/"+saved.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = h.call(t, http.MethodGet, "/api/v1/reminders?date="+reminderDate, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &day))
	assert.Empty(t, day.Slots)
}

func TestScanRejectsMissingImage(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.call(t, http.MethodPost, "/api/v1/scan", map[string]string{"image": ""})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, h.extractor.calls)
}

func TestValidateMedicines(t *testing.T) {
	h := newHarness(t)

	resp, body := h.call(t, http.MethodPost, "/api/v1/medicines/validate", map[string]string{"medicineName": "Amoxicillin"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var single struct {
		Success bool              `json:"success"`
		Data    druginfo.DrugInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &single))
	assert.True(t, single.Success)
	assert.Equal(t, "Amoxil", single.Data.BrandName)

	resp, body = h.call(t, http.MethodPost, "/api/v1/medicines/validate", map[string]any{
		"medicines": []map[string]string{{"name": "amoxicillin"}, {"name": "unobtainium"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var batch struct {
		Success bool                  `json:"success"`
		Data    []druginfo.BatchEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &batch))
	require.Len(t, batch.Data, 2)
	assert.Equal(t, "amoxicillin", batch.Data[0].OriginalName)
	assert.True(t, batch.Data[0].Validated)
	assert.Equal(t, "unobtainium", batch.Data[1].OriginalName)
	assert.False(t, batch.Data[1].Validated)
	assert.Equal(t, druginfo.NotFoundGeneric, batch.Data[1].GenericName)
}

func TestAuthAndOperationalEndpoints(t *testing.T) {
	h := newHarness(t)

	resp, err := h.server.Client().Get(h.server.URL + "/api/v1/prescriptions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = h.server.Client().Get(h.server.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = h.server.Client().Get(h.server.URL + "/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// One scan so the scan counter has a sample to expose.
	image := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	scanResp, _ := h.call(t, http.MethodPost, "/api/v1/scan", map[string]string{"image": image})
	require.Equal(t, http.StatusOK, scanResp.StatusCode)

	resp, err = h.server.Client().Get(h.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `medscan_scans_total{outcome="success"} 1`)
	assert.Contains(t, buf.String(), "http_requests_total")
}
