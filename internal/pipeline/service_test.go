package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/snfwatch/billwatch/internal/diff"
	"github.com/snfwatch/billwatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const priorAuth = " Facilities must obtain prior authorization before admission."

func TestProcessDocumentBaseline(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ProcessDocument(context.Background(), document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)

	assert.True(t, result.Change.Baseline)
	assert.Nil(t, result.Transition)
	assert.Empty(t, result.Alerts)
	assert.Empty(t, f.store.changes)
	assert.Len(t, f.store.snapshots["HB-1234"], 1)
}

func TestProcessDocumentUnchangedStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)
	result, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)

	assert.Equal(t, models.TierNoOp, result.Change.Tier)
	assert.Len(t, f.store.snapshots["HB-1234"], 1)
	assert.Empty(t, f.store.classes)
}

func TestProcessDocumentRequiresIdentifier(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ProcessDocument(context.Background(), &models.BillDocument{Text: "SECTION 1."})
	assert.Equal(t, KindInput, KindOf(err))
}

func TestProcessBillEmptyText(t *testing.T) {
	f := newFixture(t)
	meta := models.BillMetadata{BillID: "HB-1234"}
	f.source.On("FetchDocument", mock.Anything, meta).Return(&models.BillDocument{Metadata: meta, Text: "  "}, nil)

	_, err := f.svc.ProcessBill(context.Background(), meta)
	assert.Equal(t, KindInput, KindOf(err))
	assert.ErrorIs(t, err, diff.ErrEmptySnapshot)
}

func TestProcessBillFetchError(t *testing.T) {
	f := newFixture(t)
	meta := models.BillMetadata{BillID: "HB-1234"}
	f.source.On("FetchDocument", mock.Anything, meta).Return(nil, errOffline)

	_, err := f.svc.ProcessBill(context.Background(), meta)
	assert.Equal(t, KindFetch, KindOf(err))
	assert.ErrorIs(t, err, errOffline)
}

func TestDispatchPerRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	urgentOnly := models.DefaultPreference("alice")
	urgentOnly.MinPriority = models.PriorityUrgent
	f.store.subscribe(urgentOnly, "HB-1234")

	daily := models.DefaultPreference("bob")
	daily.Frequency = models.FrequencyDaily
	f.store.subscribe(daily, "*")

	immediate := models.DefaultPreference("carol")
	f.store.subscribe(immediate, "HB-1234")

	_, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)
	f.advance(time.Hour)
	result, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(priorAuth), "Referred to Committee on Finance"))
	require.NoError(t, err)

	require.Len(t, result.Alerts, 3)
	byUser := make(map[string]models.Alert)
	ids := make(map[string]bool)
	for _, a := range result.Alerts {
		require.Len(t, a.TargetUsers, 1)
		byUser[a.TargetUsers[0]] = a
		ids[a.ID] = true
	}
	assert.Len(t, ids, 3)

	assert.Equal(t, models.DeliveryFiltered, byUser["alice"].Delivery)
	assert.Equal(t, models.OutcomeGroup, byUser["bob"].Outcome)
	assert.Equal(t, models.FrequencyDaily, byUser["bob"].Frequency)
	assert.Equal(t, models.DeliveryPending, byUser["bob"].Delivery)
	assert.Equal(t, models.DeliverySent, byUser["carol"].Delivery)
	require.NotNil(t, byUser["carol"].DeliveredAt)

	assert.Equal(t, []string{"carol"}, f.notifier.to)
	grouped, held := f.svc.Dedup.Book().Pending()
	assert.Equal(t, 1, grouped)
	assert.Zero(t, held)
	assert.Len(t, f.store.allAlerts(), 3)
}

func TestDispatchQuietHoursHoldsAlert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sleeper := models.DefaultPreference("dana")
	sleeper.QuietHoursStart = "13:00"
	sleeper.QuietHoursEnd = "16:00"
	f.store.subscribe(sleeper, "HB-1234")

	_, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)
	result, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(priorAuth), "Introduced"))
	require.NoError(t, err)

	require.Len(t, result.Alerts, 1)
	require.NotEqual(t, models.PriorityUrgent, result.Alerts[0].Priority)
	assert.Equal(t, models.DeliveryHeld, result.Alerts[0].Delivery)
	assert.Empty(t, f.notifier.sent())
}

func TestDeliveryFailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.notifier.err = errOffline

	_, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)
	result, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(priorAuth), "Introduced"))

	assert.Equal(t, KindDelivery, KindOf(err))
	require.NotNil(t, result)
	require.Len(t, result.Alerts, 1)
	assert.Equal(t, models.DeliveryFailed, result.Alerts[0].Delivery)
	assert.Len(t, f.store.snapshots["HB-1234"], 2)
}

func TestStoreFailureSkipsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.ProcessDocument(ctx, document("HB-1234", billText(""), "Introduced"))
	require.NoError(t, err)

	f.store.saveErr = errOffline
	_, err = f.svc.ProcessDocument(ctx, document("HB-1234", billText(priorAuth), "Introduced"))
	assert.Equal(t, KindStore, KindOf(err))
	assert.Len(t, f.store.snapshots["HB-1234"], 1)
}

func TestBuildCandidateMessage(t *testing.T) {
	r := &BillResult{
		Change: &models.ChangeRecord{Tier: models.TierModerate, Summary: "Overall similarity 97.0% (3.0% changed).",
			KeywordHits: []string{"prior authorization"}},
		Transition: &models.StageTransition{FromStage: models.StageCommittee, ToStage: models.StageIntroduced,
			Type: models.TransitionRegression},
		Classification: &models.ClassificationResult{Label: models.SeverityModerate},
	}

	c := buildCandidate(models.BillMetadata{BillID: "HB-1234"}, r, "Introduced", time.Now())
	assert.Equal(t, "HB-1234", c.BillNumber)
	assert.Equal(t, "Status moved from committee to introduced (Introduced), a regression. "+
		"Overall similarity 97.0% (3.0% changed). Key terms: prior authorization. Significance: moderate.", c.Message)
}

func TestAlertable(t *testing.T) {
	minor := &models.ChangeRecord{Tier: models.TierMinor}
	tests := []struct {
		name   string
		result *BillResult
		want   bool
	}{
		{"nothing classified", &BillResult{Change: minor}, false},
		{"minor change minor label", &BillResult{Change: minor, Classification: &models.ClassificationResult{Label: models.SeverityMinor}}, false},
		{"minor change moderate label", &BillResult{Change: minor, Classification: &models.ClassificationResult{Label: models.SeverityModerate}}, true},
		{"moderate change", &BillResult{Change: &models.ChangeRecord{Tier: models.TierModerate}, Classification: &models.ClassificationResult{Label: models.SeverityMinor}}, true},
		{"transition", &BillResult{Change: &models.ChangeRecord{Tier: models.TierNoOp}, Transition: &models.StageTransition{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, alertable(tt.result))
		})
	}
}
