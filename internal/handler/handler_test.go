package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"water-order-bot/internal/model"
	"water-order-bot/internal/monitor"
	"water-order-bot/internal/orders"
)

type fakeScheduler struct {
	running  bool
	startErr error
	runErr   error
	result   monitor.PassResult
	runs     int
	lastRun  time.Time
}

func (f *fakeScheduler) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeScheduler) Stop() error {
	f.running = false
	return nil
}

func (f *fakeScheduler) IsRunning() bool { return f.running }

func (f *fakeScheduler) RunOnce(context.Context) (monitor.PassResult, error) {
	f.runs++
	return f.result, f.runErr
}

func (f *fakeScheduler) GetNextRun() time.Time {
	if !f.running {
		return time.Time{}
	}
	return time.Date(2026, 1, 1, 12, 2, 0, 0, time.UTC)
}

func (f *fakeScheduler) GetLastRun() time.Time           { return f.lastRun }
func (f *fakeScheduler) LastResult() monitor.PassResult { return f.result }

type fakeBot struct {
	mu      sync.Mutex
	updates []tgbotapi.Update
	ctxErr  error
}

func (f *fakeBot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	f.ctxErr = ctx.Err()
}

type failingStore struct {
	orders.Store
}

func (failingStore) ListPending(context.Context) ([]model.PendingOrder, error) {
	return nil, errors.New("table is gone")
}

func (failingStore) Count(context.Context) (int, error) {
	return 0, errors.New("table is gone")
}

func (failingStore) Degraded() bool { return false }

type degradedStore struct {
	orders.Store
}

func (degradedStore) Degraded() bool { return true }

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

type fixture struct {
	router    *gin.Engine
	store     orders.Store
	scheduler *fakeScheduler
	bot       *fakeBot
}

func newFixture(t *testing.T, store orders.Store, secret string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if store == nil {
		store = orders.NewMemoryStore(nullLogger())
	}
	f := &fixture{
		router:    gin.New(),
		store:     store,
		scheduler: &fakeScheduler{},
		bot:       &fakeBot{},
	}
	NewHandlers(f.store, f.scheduler, f.bot, secret, nullLogger()).SetupRoutes(f.router)
	return f
}

func (f *fixture) do(method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) createOrder(t *testing.T, userID int64) string {
	t.Helper()
	id, err := f.store.Create(context.Background(), model.PendingOrder{
		ChatID:       100,
		UserID:       userID,
		EmailSentTo:  "water@example.com",
		EmailSubject: "Water Delivery Order",
	})
	require.NoError(t, err)
	return id
}

func TestIndex(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "water-order-bot")
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, nil, "")
	f.createOrder(t, 1)
	f.scheduler.running = true

	w := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Store)
	assert.Equal(t, 1, resp.PendingOrders)
	assert.Equal(t, "running", resp.Scheduler["state"])
	assert.NotEmpty(t, resp.Scheduler["next_run"])
}

func TestHealthCheckDegradedStoreIsStillHealthy(t *testing.T) {
	f := newFixture(t, degradedStore{}, "")

	w := f.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Store)
	assert.Equal(t, "stopped", resp.Scheduler["state"])
}

func TestHealthCheckStoreError(t *testing.T) {
	f := newFixture(t, failingStore{}, "")

	w := f.do(http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"error"`)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t, nil, "")
	first := f.createOrder(t, 1)

	w := f.do(http.MethodGet, "/api/v1/orders", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, first, resp.Orders[0].TrackingID)
	assert.Equal(t, "water@example.com", resp.Orders[0].EmailSentTo)
	assert.Nil(t, resp.Orders[0].LastReminderAt)
}

func TestListOrdersEmpty(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/api/v1/orders", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"orders":[],"count":0}`, w.Body.String())
}

func TestListOrdersStoreError(t *testing.T) {
	f := newFixture(t, failingStore{}, "")

	w := f.do(http.MethodGet, "/api/v1/orders", "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "store_error")
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t, nil, "")
	id := f.createOrder(t, 7)

	w := f.do(http.MethodGet, "/api/v1/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.TrackingID)
	assert.Equal(t, int64(7), resp.UserID)
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodGet, "/api/v1/orders/100_1_1_deadbeef", "", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

func TestCompleteOrder(t *testing.T) {
	f := newFixture(t, nil, "")
	id := f.createOrder(t, 1)

	w := f.do(http.MethodDelete, "/api/v1/orders/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, err := f.store.Get(context.Background(), id)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	// A second completion is a no-op.
	w = f.do(http.MethodDelete, "/api/v1/orders/"+id, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSchedulerEndpoints(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, "/api/v1/scheduler/start", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.scheduler.running)

	w = f.do(http.MethodGet, "/api/v1/scheduler/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = f.do(http.MethodPost, "/api/v1/scheduler/stop", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.scheduler.running)
}

func TestStartSchedulerError(t *testing.T) {
	f := newFixture(t, nil, "")
	f.scheduler.startErr = errors.New("invalid interval")

	w := f.do(http.MethodPost, "/api/v1/scheduler/start", "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "scheduler_error")
}

func TestRunOnce(t *testing.T) {
	f := newFixture(t, nil, "")
	f.scheduler.result = monitor.PassResult{Pending: 2, Replies: 1}

	w := f.do(http.MethodPost, "/api/v1/scheduler/run-once", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.scheduler.runs)
	assert.Contains(t, w.Body.String(), `"replies":1`)
}

func TestRunOnceSkipped(t *testing.T) {
	f := newFixture(t, nil, "")
	f.scheduler.result = monitor.PassResult{Skipped: true}

	w := f.do(http.MethodPost, "/api/v1/scheduler/run-once", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "skipped")
}

func TestRunOnceError(t *testing.T) {
	f := newFixture(t, nil, "")
	f.scheduler.runErr = errors.New("listing failed")

	w := f.do(http.MethodPost, "/api/v1/scheduler/run-once", "", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

const sampleUpdate = `{"update_id":42,"message":{"message_id":1,"date":1700000000,"chat":{"id":100,"type":"private"},"from":{"id":7,"is_bot":false,"first_name":"A"},"text":"/start"}}`

func TestTelegramWebhook(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, WebhookPath, sampleUpdate, nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.bot.updates, 1)
	assert.Equal(t, 42, f.bot.updates[0].UpdateID)
	assert.Equal(t, "/start", f.bot.updates[0].Message.Text)
	assert.NoError(t, f.bot.ctxErr)
}

func TestTelegramWebhookSecret(t *testing.T) {
	f := newFixture(t, nil, "s3cret")

	w := f.do(http.MethodPost, WebhookPath, sampleUpdate, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do(http.MethodPost, WebhookPath, sampleUpdate, map[string]string{SecretTokenHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.bot.updates)

	w = f.do(http.MethodPost, WebhookPath, sampleUpdate, map[string]string{SecretTokenHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, f.bot.updates, 1)
}

func TestTelegramWebhookBadBody(t *testing.T) {
	f := newFixture(t, nil, "")

	w := f.do(http.MethodPost, WebhookPath, "{not json", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.bot.updates)
}
