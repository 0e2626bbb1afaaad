package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/snfwatch/billwatch/internal/models"
	"github.com/snfwatch/billwatch/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSweepIsolatesBillFailures(t *testing.T) {
	archive := &MockArchive{}
	archive.On("Store", mock.MatchedBy(func(key string) bool { return strings.HasPrefix(key, "sweeps/") }), mock.Anything).Return(nil)

	f := newFixture(t, func(c *Components) { c.Archive = archive })

	good := models.BillMetadata{BillID: "HB-1"}
	broken := models.BillMetadata{BillID: "HB-2"}
	empty := models.BillMetadata{BillID: "HB-3"}

	f.source.On("TrackedBills", mock.Anything).Return([]models.BillMetadata{good, broken, empty}, nil)
	f.source.On("FetchDocument", mock.Anything, good).Return(document("HB-1", billText(""), "Introduced"), nil)
	f.source.On("FetchDocument", mock.Anything, broken).Return(nil, errOffline)
	f.source.On("FetchDocument", mock.Anything, empty).Return(document("HB-3", "", "Introduced"), nil)

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Bills)
	assert.Equal(t, 1, report.Processed)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, 1, report.ByKind[string(KindFetch)])
	assert.Equal(t, 1, report.ByKind[string(KindInput)])

	metrics := f.svc.Stats().Snapshot()
	assert.Equal(t, 1, metrics.Sweeps)
	assert.Equal(t, 3, metrics.BillsTracked)
	assert.Equal(t, 2, metrics.BillsFailed)
	archive.AssertExpectations(t)
}

func TestSweepAllFailed(t *testing.T) {
	f := newFixture(t)
	bill := models.BillMetadata{BillID: "HB-1"}
	f.source.On("TrackedBills", mock.Anything).Return([]models.BillMetadata{bill}, nil)
	f.source.On("FetchDocument", mock.Anything, bill).Return(nil, errOffline)

	report, err := f.svc.Sweep(context.Background())
	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Failures, 1)
}

func TestSweepListingError(t *testing.T) {
	f := newFixture(t)
	f.source.On("TrackedBills", mock.Anything).Return(nil, errOffline)

	_, err := f.svc.Sweep(context.Background())
	assert.ErrorIs(t, err, errOffline)
}

// panicSource panics for one bill and counts concurrent fetches
type panicSource struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

var _ sources.Source = (*panicSource)(nil)

func (p *panicSource) GetName() string { return "panic" }
func (p *panicSource) IsEnabled() bool { return true }

func (p *panicSource) TrackedBills(context.Context) ([]models.BillMetadata, error) {
	var bills []models.BillMetadata
	for _, id := range []string{"A", "B", "C", "D", "E", "F"} {
		bills = append(bills, models.BillMetadata{BillID: id})
	}
	return bills, nil
}

func (p *panicSource) FetchDocument(_ context.Context, bill models.BillMetadata) (*models.BillDocument, error) {
	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)

	if bill.BillID == "C" {
		panic("malformed feed entry")
	}
	return document(bill.BillID, billText(""), "Introduced"), nil
}

func TestSweepRecoversPanicsWithinWorkerLimit(t *testing.T) {
	src := &panicSource{}
	f := newFixture(t, func(c *Components) { c.Source = src })

	report, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, report.Processed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, KindPanic, report.Failures[0].Kind)
	assert.Equal(t, "C", report.Failures[0].BillID)
	assert.LessOrEqual(t, src.peak.Load(), int32(f.svc.config.SweepWorkers))
}

func TestSweepTimeoutMarksRemainingBills(t *testing.T) {
	f := newFixture(t)
	f.svc.config.SweepTimeout = time.Millisecond
	f.svc.config.SweepWorkers = 1

	slow := models.BillMetadata{BillID: "HB-1"}
	late := models.BillMetadata{BillID: "HB-2"}
	f.source.On("TrackedBills", mock.Anything).Return([]models.BillMetadata{slow, late}, nil)
	f.source.On("FetchDocument", mock.Anything, slow).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(nil, context.DeadlineExceeded)
	f.source.On("FetchDocument", mock.Anything, late).Return(document("HB-2", billText(""), "Introduced"), nil).Maybe()

	report, err := f.svc.Sweep(context.Background())
	assert.Error(t, err)
	require.NotNil(t, report)
	require.Len(t, report.Failures, 2)
	for _, failure := range report.Failures {
		assert.Equal(t, KindTimeout, failure.Kind)
	}
	assert.Empty(t, f.store.snapshots)
}

func TestBillErrorJSON(t *testing.T) {
	data, err := json.Marshal(&BillError{Kind: KindFetch, BillID: "HB-1", Err: errOffline})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"fetch","bill_id":"HB-1","error":"service offline"}`, string(data))
}
