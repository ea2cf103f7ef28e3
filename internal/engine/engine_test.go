package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/extract"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
	"github.com/siddharthshah87/PracticePilot/internal/store"
)

const screenJane = `Patient: Jane Doe
DOB: 03/14/1985
Chart #: C-1042

Insurance
Carrier: Delta Dental
Member ID: ZX99810

Billing
Balance: $312.40

Last refreshed 9:12 AM
`

const screenBob = `Patient: Bob Smith
DOB: 01/02/1950

Insurance
Carrier: Cigna
`

// fakeService counts external extraction calls and returns a canned
// result, or an error when failing is set. onCall, when non-nil, runs
// during the call to simulate work arriving mid-extraction.
type fakeService struct {
	calls   int
	failing bool
	onCall  func()
	result  *extract.Result
}

func (f *fakeService) Extract(ctx context.Context, cleanedText string, hint *artifact.Artifact) (*extract.Result, error) {
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.failing {
		return nil, fmt.Errorf("model unavailable")
	}
	if f.result != nil {
		return f.result, nil
	}
	return &extract.Result{
		Sections: map[profile.SectionName]map[string]any{
			profile.SectionInsurance: {"carrier": "Delta Dental"},
		},
		Provenance: extract.ProvenanceModel,
	}, nil
}

func testEngine(t *testing.T, svc extract.Service) *Engine {
	t.Helper()
	kv, err := store.OpenKV(":memory:")
	if err != nil {
		t.Fatalf("OpenKV: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return New(Config{
		Profiles:  store.NewProfileStore(kv, 0),
		Artifacts: store.NewArtifactStore(kv, 0),
		Service:   svc,
		Logger:    logger,
	})
}

func TestScanAndMerge_SecondScanHitsCache(t *testing.T) {
	svc := &fakeService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	first, err := eng.ScanAndMerge(ctx, screenJane, nil)
	if err != nil {
		t.Fatalf("first scan: %v", err)
	}
	if first.FromCache {
		t.Error("first scan should not report from cache")
	}
	if svc.calls != 1 {
		t.Fatalf("calls after first scan = %d, want 1", svc.calls)
	}

	// Same screen with only the clock changed must not trigger a second
	// external call.
	again := strings.Replace(screenJane, "9:12 AM", "2:41 PM", 1)
	second, err := eng.ScanAndMerge(ctx, again, nil)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if !second.FromCache {
		t.Error("second scan should report from cache")
	}
	if svc.calls != 1 {
		t.Errorf("calls after second scan = %d, want 1", svc.calls)
	}
}

func TestScanAndMerge_SubjectSwitchClearsExtractionCache(t *testing.T) {
	svc := &fakeService{}
	eng := testEngine(t, svc)
	ctx := context.Background()

	if _, err := eng.ScanAndMerge(ctx, screenJane, nil); err != nil {
		t.Fatalf("jane: %v", err)
	}
	if _, err := eng.ScanAndMerge(ctx, screenBob, nil); err != nil {
		t.Fatalf("bob: %v", err)
	}
	if got := eng.CurrentSubject(); got != "bob smith" {
		t.Errorf("CurrentSubject = %q, want %q", got, "bob smith")
	}

	// Returning to the first screen is a fresh extraction: the switch
	// dropped the cache.
	if _, err := eng.ScanAndMerge(ctx, screenJane, nil); err != nil {
		t.Fatalf("jane again: %v", err)
	}
	if svc.calls != 3 {
		t.Errorf("calls = %d, want 3", svc.calls)
	}
}

func TestScanAndMerge_SubjectProfilesStayIsolated(t *testing.T) {
	eng := testEngine(t, nil)
	ctx := context.Background()

	if _, err := eng.ScanAndMerge(ctx, screenJane, nil); err != nil {
		t.Fatalf("jane: %v", err)
	}
	res, err := eng.ScanAndMerge(ctx, screenBob, nil)
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if got, _ := res.Profile.StringField(profile.SectionInsurance, "carrier"); got != "Cigna" {
		t.Errorf("bob carrier = %q, want Cigna", got)
	}
	if _, ok := res.Profile.StringField(profile.SectionBilling, "balance"); ok {
		t.Error("jane's billing data leaked into bob's profile")
	}
}

func TestScanAndMerge_FallsBackToHeuristicOnServiceError(t *testing.T) {
	svc := &fakeService{failing: true}
	eng := testEngine(t, svc)

	res, err := eng.ScanAndMerge(context.Background(), screenJane, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res.Provenance != extract.ProvenanceHeuristic {
		t.Errorf("provenance = %q, want %q", res.Provenance, extract.ProvenanceHeuristic)
	}
	if got, _ := res.Profile.StringField(profile.SectionInsurance, "carrier"); got != "Delta Dental" {
		t.Errorf("carrier = %q, heuristic parse should still populate the profile", got)
	}
}

func TestScanAndMerge_NoIdentityIsNoOp(t *testing.T) {
	svc := &fakeService{}
	eng := testEngine(t, svc)

	res, err := eng.ScanAndMerge(context.Background(), "Appointment book\n9:00 AM  Operatory 2\n", nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if res != nil {
		t.Fatalf("res = %+v, want nil for identity-free text", res)
	}
	if svc.calls != 0 {
		t.Errorf("calls = %d, want 0", svc.calls)
	}
}

func TestScanAndMerge_LocalIdentityOverridesExtraction(t *testing.T) {
	svc := &fakeService{result: &extract.Result{
		Sections: map[profile.SectionName]map[string]any{
			profile.SectionProfile: {"name": "J. Doey", "dob": "1985-01-01", "language": "en"},
		},
		Provenance: extract.ProvenanceModel,
	}}
	eng := testEngine(t, svc)

	res, err := eng.ScanAndMerge(context.Background(), screenJane, nil)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got, _ := res.Profile.StringField(profile.SectionProfile, "name"); got != "Jane Doe" {
		t.Errorf("name = %q, locally derived identity must win", got)
	}
	if got, _ := res.Profile.StringField(profile.SectionProfile, "dob"); got != "03/14/1985" {
		t.Errorf("dob = %q, locally derived identity must win", got)
	}
	if got, _ := res.Profile.StringField(profile.SectionProfile, "language"); got != "en" {
		t.Errorf("language = %q, non-identity fields must survive", got)
	}
}

func TestScanAndMerge_DiscardsResultAfterMidFlightSwitch(t *testing.T) {
	eng := testEngine(t, nil)
	ctx := context.Background()

	var switched bool
	svc := &fakeService{}
	svc.onCall = func() {
		if switched {
			return
		}
		switched = true
		// A different subject appears while this extraction is running.
		if _, err := eng.ScanAndMerge(ctx, screenBob, nil); err != nil {
			t.Errorf("bob mid-flight: %v", err)
		}
	}
	eng.service = svc

	res, err := eng.ScanAndMerge(ctx, screenJane, nil)
	if err != nil {
		t.Fatalf("jane: %v", err)
	}
	if res != nil {
		t.Fatal("stale result for the pre-switch subject must be discarded")
	}
	if got := eng.CurrentSubject(); got != "bob smith" {
		t.Errorf("CurrentSubject = %q, want %q", got, "bob smith")
	}

	// Jane must not have been persisted by the discarded merge.
	p, err := eng.profiles.Load(ctx, "jane doe")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p != nil {
		t.Error("discarded result was persisted anyway")
	}
}

func TestScanAndMerge_PersistenceFailurePropagates(t *testing.T) {
	kv, err := store.OpenKV(":memory:")
	if err != nil {
		t.Fatalf("OpenKV: %v", err)
	}
	kv.Close()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	eng := New(Config{
		Profiles:  store.NewProfileStore(kv, 0),
		Artifacts: store.NewArtifactStore(kv, 0),
		Logger:    logger,
	})

	_, err = eng.ScanAndMerge(context.Background(), screenJane, nil)
	if !errors.Is(err, store.ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
}

func TestScanAndMerge_HintArtifactIsStoredAndUsed(t *testing.T) {
	eng := testEngine(t, nil)
	ctx := context.Background()

	card := &artifact.Artifact{
		SubscriberName: "Jane Doe",
		DateOfBirth:    "03/14/1985",
		MemberID:       "ZX99810",
		Carrier:        "Delta Dental",
		Coverage:       map[string]float64{"D1110": 100},
	}
	res, err := eng.ScanAndMerge(ctx, screenJane, card)
	if err != nil {
		t.Fatalf("scan with hint: %v", err)
	}
	if res.Artifact == nil || res.Artifact.MemberID != "ZX99810" {
		t.Fatalf("Artifact = %+v, want the provided card", res.Artifact)
	}

	// A later scan without the hint finds the stored card by identity.
	res, err = eng.ScanAndMerge(ctx, screenJane, nil)
	if err != nil {
		t.Fatalf("scan without hint: %v", err)
	}
	if res.Artifact == nil || res.Artifact.Carrier != "Delta Dental" {
		t.Fatalf("Artifact = %+v, want lookup to recover the stored card", res.Artifact)
	}
}

func TestObserve_SelfOriginatedChangesAreIgnored(t *testing.T) {
	svc := &fakeService{}
	eng := testEngine(t, svc)

	eng.Observe(context.Background(), Change{Text: screenJane, Origin: "PracticePilot Overlay"})
	if svc.calls != 0 {
		t.Errorf("calls = %d, self-originated change must not feed back", svc.calls)
	}
	if got := eng.CurrentSubject(); got != "" {
		t.Errorf("CurrentSubject = %q, want empty", got)
	}
}

func TestObserve_CoalescesBurstToLatest(t *testing.T) {
	eng := testEngine(t, nil)
	ctx := context.Background()

	var results []*ScanResult
	eng.onResult = func(r *ScanResult) { results = append(results, r) }

	svc := &fakeService{}
	svc.onCall = func() {
		if svc.calls != 1 {
			return
		}
		// Two more notifications land while the first merge is running.
		// Only the latest survives the single pending slot.
		eng.Observe(ctx, Change{Text: screenJane + "\nForms\nStatus: incomplete\n", Origin: "opendental"})
		eng.Observe(ctx, Change{Text: screenBob, Origin: "opendental"})
	}
	eng.service = svc

	eng.Observe(ctx, Change{Text: screenJane, Origin: "opendental"})

	if svc.calls != 2 {
		t.Errorf("calls = %d, want 2 (original plus latest pending)", svc.calls)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if got := results[1].Profile.SubjectID; got != "Bob Smith" {
		t.Errorf("last merged subject = %q, want Bob Smith", got)
	}
}
