package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"stockboard/authz"
	"stockboard/errs"
	"stockboard/handlers"
	"stockboard/ingest"
	"stockboard/models"
	"stockboard/notify"
	"stockboard/predict"
)

// fakeBackend is an in-memory stand-in for the gorm store, implementing
// every interface the handler stack consumes.
type fakeBackend struct {
	mu          sync.Mutex
	nextID      uint
	companies   map[uint]*models.Company
	series      map[uint]*models.StockSeries // keyed by company id
	rows        map[uint][]models.StockObservation
	predictions []*models.Prediction
	records     map[uint]*models.NotificationRecord

	// afterEnsure and afterSeriesRead run after EnsureSeries and
	// SeriesByCompany hand out their copies, so a test can slide a
	// concurrent write between a reader's snapshot and its next step.
	afterEnsure     func()
	afterSeriesRead func()
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		companies: make(map[uint]*models.Company),
		series:    make(map[uint]*models.StockSeries),
		rows:      make(map[uint][]models.StockObservation),
		records:   make(map[uint]*models.NotificationRecord),
	}
}

func (f *fakeBackend) id() uint {
	f.nextID++
	return f.nextID
}

// --- handlers.Store ---

func (f *fakeBackend) CreateCompany(_ context.Context, c *models.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c.ID = f.id()
	cp := *c
	f.companies[c.ID] = &cp
	return nil
}

func (f *fakeBackend) CompaniesByOwner(_ context.Context, ownerID uint) ([]models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Company
	for _, c := range f.companies {
		if c.UserID == ownerID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeBackend) CompanyByID(_ context.Context, companyID uint) (*models.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "company %d not found", companyID)
	}
	cp := *c
	return &cp, nil
}

func (f *fakeBackend) UpdateCompany(_ context.Context, companyID uint, updates map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return errs.New(errs.KindNotFound, "company %d not found", companyID)
	}
	if name, ok := updates["name"].(string); ok {
		c.Name = name
	}
	if chat, ok := updates["chat_id"].(int64); ok {
		c.ChatID = chat
	}
	return nil
}

func (f *fakeBackend) DeleteCompanyCascade(_ context.Context, companyID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if srs, ok := f.series[companyID]; ok {
		delete(f.rows, srs.ID)
	}
	delete(f.series, companyID)
	delete(f.companies, companyID)
	var kept []*models.Prediction
	for _, p := range f.predictions {
		if p.CompanyID != companyID {
			kept = append(kept, p)
		}
	}
	f.predictions = kept
	for id, rec := range f.records {
		if rec.CompanyID == companyID {
			delete(f.records, id)
		}
	}
	return nil
}

func (f *fakeBackend) Observations(_ context.Context, seriesID uint) ([]models.StockObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]models.StockObservation(nil), f.rows[seriesID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeBackend) PredictionsByCompany(_ context.Context, companyID uint) ([]models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Prediction
	for i := len(f.predictions) - 1; i >= 0; i-- {
		if f.predictions[i].CompanyID == companyID {
			out = append(out, *f.predictions[i])
		}
	}
	return out, nil
}

func (f *fakeBackend) RecordsByCompany(_ context.Context, companyID uint) ([]models.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NotificationRecord
	for _, rec := range f.records {
		if rec.CompanyID == companyID {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// --- authz.ChainStore ---

func (f *fakeBackend) CompanyOwner(_ context.Context, companyID uint) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return 0, errs.New(errs.KindNotFound, "company %d not found", companyID)
	}
	return c.UserID, nil
}

func (f *fakeBackend) SeriesCompany(_ context.Context, seriesID uint) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, srs := range f.series {
		if srs.ID == seriesID {
			return srs.CompanyID, nil
		}
	}
	return 0, errs.New(errs.KindNotFound, "series %d not found", seriesID)
}

func (f *fakeBackend) PredictionCompany(_ context.Context, predictionID uint) (uint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.predictions {
		if p.ID == predictionID {
			return p.CompanyID, nil
		}
	}
	return 0, errs.New(errs.KindNotFound, "prediction %d not found", predictionID)
}

// --- ingest.SeriesStore ---

func (f *fakeBackend) EnsureSeries(_ context.Context, companyID uint) (*models.StockSeries, error) {
	f.mu.Lock()
	srs, ok := f.series[companyID]
	if !ok {
		srs = &models.StockSeries{CompanyID: companyID}
		srs.ID = f.id()
		f.series[companyID] = srs
	}
	cp := *srs
	hook := f.afterEnsure
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeBackend) TimestampExists(_ context.Context, seriesID uint, ts []time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range ts {
		for _, row := range f.rows[seriesID] {
			if row.Timestamp.Equal(t) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (f *fakeBackend) AppendObservations(_ context.Context, seriesID uint, expect uint64, obs []models.Observation, newLastTS int64) (uint64, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var srs *models.StockSeries
	for _, s := range f.series {
		if s.ID == seriesID {
			srs = s
		}
	}
	if srs == nil {
		return 0, 0, errs.New(errs.KindNotFound, "series %d not found", seriesID)
	}
	if srs.Version != expect {
		return 0, 0, errs.New(errs.KindConcurrentModification, "series %d is no longer at version %d", seriesID, expect)
	}
	for _, o := range obs {
		f.rows[seriesID] = append(f.rows[seriesID], models.StockObservation{
			SeriesID: seriesID, Timestamp: o.Timestamp, Price: o.Price, Volume: o.Volume,
		})
	}
	srs.Version += uint64(len(obs))
	srs.Length += len(obs)
	srs.LastTS = newLastTS
	return srs.Version, srs.Length, nil
}

// --- predict.SnapshotStore ---

func (f *fakeBackend) SeriesByCompany(_ context.Context, companyID uint) (*models.StockSeries, error) {
	f.mu.Lock()
	srs, ok := f.series[companyID]
	if !ok {
		f.mu.Unlock()
		return nil, errs.New(errs.KindNotFound, "series of company %d not found", companyID)
	}
	cp := *srs
	hook := f.afterSeriesRead
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return &cp, nil
}

func (f *fakeBackend) SeriesSnapshot(_ context.Context, seriesID uint, length int) ([]models.StockObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[seriesID]
	if length > len(rows) {
		length = len(rows)
	}
	out := append([]models.StockObservation(nil), rows[:length]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeBackend) CreatePrediction(_ context.Context, p *models.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = f.id()
	cp := *p
	f.predictions = append(f.predictions, &cp)
	return nil
}

func (f *fakeBackend) LatestPrediction(_ context.Context, companyID uint) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.predictions) - 1; i >= 0; i-- {
		if f.predictions[i].CompanyID == companyID {
			cp := *f.predictions[i]
			return &cp, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "prediction for company %d not found", companyID)
}

// --- notify.RecordStore ---

func (f *fakeBackend) CreateRecord(_ context.Context, rec *models.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.PredictionID]; ok {
		return notify.ErrDuplicate
	}
	rec.ID = f.id()
	cp := *rec
	f.records[rec.PredictionID] = &cp
	return nil
}

func (f *fakeBackend) RecordByPrediction(_ context.Context, predictionID uint) (*models.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[predictionID]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "record for prediction %d not found", predictionID)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeBackend) UpdateRecord(_ context.Context, rec *models.NotificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.PredictionID] = &cp
	return nil
}

func (f *fakeBackend) PendingRecords(_ context.Context, _ time.Time, limit int) ([]models.NotificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NotificationRecord
	for _, rec := range f.records {
		if rec.Status == models.NotificationPending && len(out) < limit {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeBackend) PredictionByID(_ context.Context, id uint) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.predictions {
		if p.ID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.New(errs.KindNotFound, "prediction %d not found", id)
}

func (f *fakeBackend) CompanyChat(_ context.Context, companyID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.companies[companyID]
	if !ok {
		return 0, errs.New(errs.KindNotFound, "company %d not found", companyID)
	}
	return c.ChatID, nil
}

// --- handlers.PredictionCache ---

type fakeCache struct {
	mu      sync.Mutex
	entries map[uint]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[uint]string)}
}

func (f *fakeCache) Get(_ context.Context, companyID uint) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[companyID]
	return v, ok
}

func (f *fakeCache) Set(_ context.Context, companyID uint, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[companyID] = payload
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, companyID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, companyID)
	return nil
}

type fixture struct {
	backend    *fakeBackend
	cache      *fakeCache
	dispatcher *notify.Dispatcher
	router     *gin.Engine
}

// newFixture builds the full stack over the in-memory backend. The
// auth middleware is replaced by one that trusts the X-Test-User
// header, so requests impersonate users directly.
func newFixture() *fixture {
	gin.SetMode(gin.TestMode)

	be := newFakeBackend()
	ca := newFakeCache()
	guard := authz.NewGuard(be)
	dispatcher := notify.NewDispatcher(be, notify.NopChannel{})
	ingestSvc := ingest.NewService(be, ca)
	engine := predict.NewEngine(be, predict.NewDampedTrend(), dispatcher)
	h := handlers.New(be, guard, ingestSvc, engine, dispatcher, ca)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		var uid uint
		fmt.Sscanf(c.GetHeader("X-Test-User"), "%d", &uid)
		if uid != 0 {
			c.Set("user_id", uid)
		}
		c.Next()
	})

	dashboard := router.Group("/api/dashboard")
	dashboard.GET("/companies", h.ListCompanies)
	dashboard.POST("/companies", h.CreateCompany)
	dashboard.GET("/companies/:companyId", h.GetCompany)
	dashboard.PUT("/companies/:companyId", h.UpdateCompany)
	dashboard.DELETE("/companies/:companyId", h.DeleteCompany)
	dashboard.GET("/companies/:companyId/stocks", h.GetStocks)
	dashboard.POST("/companies/:companyId/data", h.IngestData)
	dashboard.GET("/companies/:companyId/prediction", h.GetPrediction)
	dashboard.POST("/companies/:companyId/prediction", h.CreatePrediction)
	dashboard.GET("/companies/:companyId/predictions", h.ListPredictions)
	dashboard.GET("/companies/:companyId/chat", h.GetChat)
	dashboard.PUT("/companies/:companyId/chat", h.UpdateChat)

	return &fixture{backend: be, cache: ca, dispatcher: dispatcher, router: router}
}

func (fx *fixture) do(t *testing.T, user uint, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != 0 {
		req.Header.Set("X-Test-User", fmt.Sprint(user))
	}
	w := httptest.NewRecorder()
	fx.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), into); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
}

func obsPayload(points ...[3]float64) string {
	var parts []string
	for _, p := range points {
		ts := time.Unix(int64(p[0]), 0).UTC().Format(time.RFC3339)
		parts = append(parts, fmt.Sprintf(`{"timestamp":%q,"price":%v,"volume":%v}`, ts, p[1], p[2]))
	}
	return fmt.Sprintf(`{"observations":[%s]}`, strings.Join(parts, ","))
}

func TestCompanyLifecycle(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created models.Company
	decode(t, w, &created)

	w = fx.do(t, 1, http.MethodGet, "/api/dashboard/companies", "")
	var listed []models.Company
	decode(t, w, &listed)
	if len(listed) != 1 || listed[0].Name != "Acme" {
		t.Fatalf("list: expected [Acme], got %+v", listed)
	}

	// Another owner's listing is empty, never a 404.
	w = fx.do(t, 2, http.MethodGet, "/api/dashboard/companies", "")
	if w.Code != http.StatusOK {
		t.Fatalf("foreign list: expected 200, got %d", w.Code)
	}
	var foreign []models.Company
	decode(t, w, &foreign)
	if len(foreign) != 0 {
		t.Fatalf("foreign list leaked companies: %+v", foreign)
	}

	path := fmt.Sprintf("/api/dashboard/companies/%d", created.ID)
	if w = fx.do(t, 1, http.MethodGet, path, ""); w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodPut, path, `{"name":"Acme Corp"}`); w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodDelete, path, ""); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodGet, path, ""); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", w.Code)
	}
}

// Cross-tenant access must look exactly like a missing resource.
func TestCrossTenantIs404(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)
	path := fmt.Sprintf("/api/dashboard/companies/%d", created.ID)

	for _, tc := range []struct {
		method, suffix, body string
	}{
		{http.MethodGet, "", ""},
		{http.MethodPut, "", `{"name":"x"}`},
		{http.MethodDelete, "", ""},
		{http.MethodGet, "/stocks", ""},
		{http.MethodPost, "/data", obsPayload([3]float64{1, 100, 10})},
		{http.MethodGet, "/prediction", ""},
		{http.MethodPost, "/prediction", `{"horizon":1}`},
		{http.MethodGet, "/chat", ""},
	} {
		w := fx.do(t, 2, tc.method, path+tc.suffix, tc.body)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404 for foreign user, got %d", tc.method, tc.suffix, w.Code)
		}
	}
}

func TestUnauthenticatedIs401(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)

	w = fx.do(t, 0, http.MethodGet, fmt.Sprintf("/api/dashboard/companies/%d", created.ID), "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestIngestValidationCodes(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)
	dataPath := fmt.Sprintf("/api/dashboard/companies/%d/data", created.ID)

	// Seed the series up to t=5.
	w = fx.do(t, 1, http.MethodPost, dataPath, obsPayload([3]float64{5, 100, 10}))
	if w.Code != http.StatusCreated {
		t.Fatalf("seed: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Unordered batch.
	w = fx.do(t, 1, http.MethodPost, dataPath, obsPayload([3]float64{8, 100, 10}, [3]float64{7, 100, 10}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unordered: expected 422, got %d", w.Code)
	}

	// Out-of-order append without the backfill flag; series unchanged.
	w = fx.do(t, 1, http.MethodPost, dataPath, obsPayload([3]float64{2, 100, 10}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("out of order: expected 422, got %d", w.Code)
	}
	stocks := fx.do(t, 1, http.MethodGet, fmt.Sprintf("/api/dashboard/companies/%d/stocks", created.ID), "")
	var snapshot struct {
		Version uint64 `json:"version"`
		Length  int    `json:"length"`
	}
	decode(t, stocks, &snapshot)
	if snapshot.Length != 1 || snapshot.Version != 1 {
		t.Errorf("series changed by rejected batch: %+v", snapshot)
	}

	// Negative price.
	w = fx.do(t, 1, http.MethodPost, dataPath, obsPayload([3]float64{9, -1, 10}))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("negative price: expected 422, got %d", w.Code)
	}
}

func TestPredictionEndToEnd(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)
	base := fmt.Sprintf("/api/dashboard/companies/%d", created.ID)

	// Too few observations: 422, nothing persisted.
	w = fx.do(t, 1, http.MethodPost, base+"/data", obsPayload([3]float64{1, 100, 10}, [3]float64{2, 101, 12}))
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = fx.do(t, 1, http.MethodPost, base+"/prediction", `{"horizon":1}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("insufficient data: expected 422, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodGet, base+"/predictions", ""); w.Body.String() == "" {
		t.Fatal("missing predictions body")
	}
	var history []handlers.PredictionResponse
	decode(t, w, &history)
	if len(history) != 0 {
		t.Fatalf("insufficient data persisted a prediction: %+v", history)
	}

	// The third observation reaches the minimum; the prediction pins
	// the series version it was computed from, which is the number of
	// observations appended so far.
	w = fx.do(t, 1, http.MethodPost, base+"/data", obsPayload([3]float64{3, 99, 9}))
	if w.Code != http.StatusCreated {
		t.Fatalf("second ingest: expected 201, got %d", w.Code)
	}
	w = fx.do(t, 1, http.MethodPost, base+"/prediction", `{"horizon":1}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("predict: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p handlers.PredictionResponse
	decode(t, w, &p)
	if p.SourceSeriesVersion != 3 {
		t.Errorf("expected source series version 3, got %d", p.SourceSeriesVersion)
	}
	if len(p.Values) != 1 {
		t.Errorf("expected 1 forecast value, got %v", p.Values)
	}

	// Fresh read, then stale after more data arrives.
	w = fx.do(t, 1, http.MethodGet, base+"/prediction", "")
	decode(t, w, &p)
	if p.Stale {
		t.Error("prediction stale before any further ingestion")
	}
	w = fx.do(t, 1, http.MethodPost, base+"/data", obsPayload([3]float64{4, 104, 9}))
	if w.Code != http.StatusCreated {
		t.Fatalf("third ingest: expected 201, got %d", w.Code)
	}
	w = fx.do(t, 1, http.MethodGet, base+"/prediction", "")
	decode(t, w, &p)
	if !p.Stale {
		t.Error("prediction not stale after the series moved on")
	}

	// The other user cannot see any of it.
	w = fx.do(t, 2, http.MethodGet, base+"/prediction", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign prediction read: expected 404, got %d", w.Code)
	}
}

func TestConcurrentModificationIs409(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)

	if _, err := fx.backend.EnsureSeries(context.Background(), created.ID); err != nil {
		t.Fatal(err)
	}

	// Advance the version after the service takes its snapshot, the
	// way a concurrent writer landing between read and append would.
	fx.backend.afterEnsure = func() {
		fx.backend.mu.Lock()
		fx.backend.series[created.ID].Version++
		fx.backend.mu.Unlock()
	}

	w = fx.do(t, 1, http.MethodPost, fmt.Sprintf("/api/dashboard/companies/%d/data", created.ID), obsPayload([3]float64{1, 100, 10}))
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

// A fresh prediction payload must not be written back to the cache
// when an ingestion has moved the series (and invalidated the key)
// after the staleness check.
func TestPredictionCacheNotRepopulatedAfterSeriesMoves(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)
	base := fmt.Sprintf("/api/dashboard/companies/%d", created.ID)

	w = fx.do(t, 1, http.MethodPost, base+"/data", obsPayload([3]float64{1, 100, 10}, [3]float64{2, 101, 12}, [3]float64{3, 99, 9}))
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodPost, base+"/prediction", `{"horizon":1}`); w.Code != http.StatusCreated {
		t.Fatalf("predict: expected 201, got %d", w.Code)
	}

	// After each version read, move the series on and drop the cached
	// key, as a concurrent ingestion would.
	fx.backend.afterSeriesRead = func() {
		fx.backend.mu.Lock()
		if srs, ok := fx.backend.series[created.ID]; ok {
			srs.Version++
		}
		fx.backend.mu.Unlock()
		_ = fx.cache.Invalidate(context.Background(), created.ID)
	}

	w = fx.do(t, 1, http.MethodGet, base+"/prediction", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var p handlers.PredictionResponse
	decode(t, w, &p)
	if p.Stale {
		t.Error("prediction flagged stale although the version matched at read time")
	}
	if cached, ok := fx.cache.Get(context.Background(), created.ID); ok {
		t.Errorf("fresh payload cached although the series moved past it: %s", cached)
	}
}

func TestChatTargetAndRecords(t *testing.T) {
	fx := newFixture()

	w := fx.do(t, 1, http.MethodPost, "/api/dashboard/companies", `{"name":"Acme"}`)
	var created models.Company
	decode(t, w, &created)
	base := fmt.Sprintf("/api/dashboard/companies/%d", created.ID)

	if w = fx.do(t, 1, http.MethodPut, base+"/chat", `{"chat_id":777}`); w.Code != http.StatusOK {
		t.Fatalf("set chat: expected 200, got %d", w.Code)
	}

	w = fx.do(t, 1, http.MethodPost, base+"/data", obsPayload(
		[3]float64{1, 100, 10}, [3]float64{2, 101, 12}, [3]float64{3, 99, 9},
		[3]float64{4, 102, 9}, [3]float64{5, 103, 9}))
	if w.Code != http.StatusCreated {
		t.Fatalf("ingest: expected 201, got %d", w.Code)
	}
	if w = fx.do(t, 1, http.MethodPost, base+"/prediction", `{"horizon":1}`); w.Code != http.StatusCreated {
		t.Fatalf("predict: expected 201, got %d", w.Code)
	}
	fx.dispatcher.Wait()

	w = fx.do(t, 1, http.MethodGet, base+"/chat", "")
	var chat struct {
		ChatID        int64                       `json:"chat_id"`
		Notifications []models.NotificationRecord `json:"notifications"`
	}
	decode(t, w, &chat)
	if chat.ChatID != 777 {
		t.Errorf("expected chat id 777, got %d", chat.ChatID)
	}
	if len(chat.Notifications) != 1 || chat.Notifications[0].Status != models.NotificationDelivered {
		t.Errorf("expected one delivered record, got %+v", chat.Notifications)
	}
}
