package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/snfwatch/billwatch/internal/config"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/storage"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory storage.Store
type memStore struct {
	mu          sync.Mutex
	snapshots   map[string][]models.BillSnapshot
	changes     []models.ChangeRecord
	transitions []models.StageTransition
	classes     []models.ClassificationResult
	alerts      map[string]models.Alert
	order       []string
	subscribers map[string][]string
	prefs       map[string]models.AlertPreference
	saveErr     error
	pingErr     error
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		snapshots:   make(map[string][]models.BillSnapshot),
		alerts:      make(map[string]models.Alert),
		subscribers: make(map[string][]string),
		prefs:       make(map[string]models.AlertPreference),
	}
}

func (m *memStore) subscribe(pref models.AlertPreference, billID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prefs[pref.UserID] = pref
	m.subscribers[billID] = append(m.subscribers[billID], pref.UserID)
}

func (m *memStore) LatestSnapshot(_ context.Context, billID string) (*models.BillSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snaps := m.snapshots[billID]
	if len(snaps) == 0 {
		return nil, storage.ErrNotFound
	}
	latest := snaps[len(snaps)-1]
	return &latest, nil
}

func (m *memStore) StoreSnapshot(_ context.Context, s *models.BillSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[s.BillID] = append(m.snapshots[s.BillID], *s)
	return nil
}

func (m *memStore) Subscribers(_ context.Context, billID string) ([]models.AlertPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AlertPreference
	for _, id := range append(append([]string{}, m.subscribers[billID]...), m.subscribers[storage.AllBills]...) {
		out = append(out, m.prefs[id])
	}
	return out, nil
}

func (m *memStore) Preference(_ context.Context, userID string) (models.AlertPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return models.DefaultPreference(userID), nil
}

func (m *memStore) SaveChange(_ context.Context, c *models.ChangeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.changes = append(m.changes, *c)
	return nil
}

func (m *memStore) SaveTransition(_ context.Context, t *models.StageTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, *t)
	return nil
}

func (m *memStore) SaveClassification(_ context.Context, c *models.ClassificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.classes = append(m.classes, *c)
	return nil
}

func (m *memStore) SaveAlert(_ context.Context, a *models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		m.order = append(m.order, a.ID)
	}
	m.alerts[a.ID] = *a
	return nil
}

func (m *memStore) MarkDelivered(_ context.Context, id string, state models.DeliveryState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return storage.ErrNotFound
	}
	a.Delivery = state
	if state == models.DeliverySent {
		a.DeliveredAt = &at
	}
	m.alerts[id] = a
	return nil
}

func (m *memStore) allAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.alerts[id])
	}
	return out
}

func (m *memStore) RecentAlerts(_ context.Context, since time.Time) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range m.allAlerts() {
		if !a.CreatedAt.Before(since) && a.Outcome != models.OutcomeSuppress {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) PendingGrouped(_ context.Context) ([]models.Alert, error) {
	var out []models.Alert
	for _, a := range m.allAlerts() {
		if a.Outcome == models.OutcomeGroup && (a.Delivery == models.DeliveryPending || a.Delivery == models.DeliveryHeld) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memStore) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	kept := m.order[:0]
	for _, id := range m.order {
		if m.alerts[id].CreatedAt.Before(before) {
			delete(m.alerts, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

func (m *memStore) BuildReport(_ context.Context, period string, since, until time.Time) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report := &models.Report{
		GeneratedAt:  until,
		Period:       period,
		Since:        since,
		TotalChanges: len(m.changes),
		Transitions:  len(m.transitions),
		Summary:      map[string]interface{}{},
	}
	for _, a := range m.alerts {
		if a.Outcome != models.OutcomeSuppress {
			report.TotalAlerts++
		}
	}
	return report, nil
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

// recordingNotifier captures deliveries
type recordingNotifier struct {
	mu      sync.Mutex
	alerts  []models.Alert
	to      []string
	digests []models.Digest
	reports []models.Report
	err     error
}

func (n *recordingNotifier) SendAlert(a *models.Alert, recipient models.AlertPreference) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if err := a.ReadyForDelivery(); err != nil {
		return err
	}
	n.alerts = append(n.alerts, *a)
	n.to = append(n.to, recipient.UserID)
	return nil
}

func (n *recordingNotifier) SendDigest(d *models.Digest, _ models.AlertPreference) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.digests = append(n.digests, *d)
	return nil
}

func (n *recordingNotifier) SendReport(r *models.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.reports = append(n.reports, *r)
	return nil
}

func (n *recordingNotifier) sent() []models.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.Alert(nil), n.alerts...)
}

// MockSource is a mock bill feed
type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetName() string { return "mock" }

func (m *MockSource) IsEnabled() bool { return true }

func (m *MockSource) TrackedBills(ctx context.Context) ([]models.BillMetadata, error) {
	args := m.Called(ctx)
	if b := args.Get(0); b != nil {
		return b.([]models.BillMetadata), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSource) FetchDocument(ctx context.Context, bill models.BillMetadata) (*models.BillDocument, error) {
	args := m.Called(ctx, bill)
	if d := args.Get(0); d != nil {
		return d.(*models.BillDocument), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockArchive is a mock archive
type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Store(key string, data []byte) error {
	return m.Called(key, data).Error(0)
}

func (m *MockArchive) Retrieve(key string) ([]byte, error) {
	args := m.Called(key)
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockArchive) List(prefix string) ([]string, error) {
	args := m.Called(prefix)
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockArchive) Delete(key string) error {
	return m.Called(key).Error(0)
}

var errOffline = errors.New("service offline")

func testConfig() *config.Config {
	return &config.Config{
		AITimeout:           50 * time.Millisecond,
		ConfidenceThreshold: 0.6,
		SweepTimeout:        time.Minute,
		SweepWorkers:        2,
		DedupWindow:         24 * time.Hour,
		DedupThreshold:      0.75,
		UniqueKeywords:      []string{"emergency", "urgent", "deadline", "immediate", "critical"},
		PriorityThresholds:  []float64{0.35, 0.60, 0.80},
		RetentionDays:       90,
	}
}

type fixture struct {
	svc      *Service
	store    *memStore
	notifier *recordingNotifier
	source   *MockSource
	clock    time.Time
}

func newFixture(t *testing.T, customize ...func(*Components)) *fixture {
	t.Helper()

	cfg := testConfig()
	c, err := Engines(cfg, nil, nil)
	require.NoError(t, err)

	f := &fixture{
		store:    newMemStore(),
		notifier: &recordingNotifier{},
		source:   &MockSource{},
		clock:    time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
	}
	c.Store = f.store
	c.Notifier = f.notifier
	c.Source = f.source
	for _, fn := range customize {
		fn(&c)
	}

	f.svc, err = NewService(cfg, c)
	require.NoError(t, err)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func document(billID, text, status string) *models.BillDocument {
	return &models.BillDocument{
		Metadata: models.BillMetadata{
			BillID:       billID,
			Number:       "HB 1234",
			Title:        "An act relating to health facilities",
			Jurisdiction: "ID",
		},
		Text:   text,
		Status: status,
	}
}
