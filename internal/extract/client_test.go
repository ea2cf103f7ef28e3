package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/siddharthshah87/PracticePilot/internal/artifact"
	"github.com/siddharthshah87/PracticePilot/internal/profile"
)

func fakeCompletion(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": payload}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestClient_Extract(t *testing.T) {
	srv := fakeCompletion(t, `{
		"sections": {
			"insurance": {"carrier": "Delta Dental", "member_id": "ZX99810"},
			"made_up_section": {"x": 1}
		},
		"today_visit": {"time": "9:00 AM", "procedure_codes": ["D1110"]}
	}`)
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL, Model: "test-model"})
	res, err := c.Extract(context.Background(), "Patient: Jane Doe", nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if res.Provenance != ProvenanceModel {
		t.Errorf("provenance = %q", res.Provenance)
	}
	if res.Sections[profile.SectionInsurance]["carrier"] != "Delta Dental" {
		t.Errorf("insurance = %v", res.Sections[profile.SectionInsurance])
	}
	if _, ok := res.Sections["made_up_section"]; ok {
		t.Error("unknown sections should be dropped")
	}
	if res.TodayVisit == nil || res.TodayVisit.Time != "9:00 AM" {
		t.Errorf("visit = %v", res.TodayVisit)
	}
}

func TestClient_HintIncludedInRequest(t *testing.T) {
	var sawHint bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		for _, m := range req.Messages {
			if m.Role == "user" && strings.Contains(m.Content, "ZX99810") {
				sawHint = true
			}
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": `{"sections":{}}`}}},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL})
	_, err := c.Extract(context.Background(), "text", &artifact.Artifact{MemberID: "ZX99810"})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !sawHint {
		t.Error("benefits card hint was not sent to the service")
	}
}

func TestClient_FailureAfterRetries(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL, MaxRetries: 0})
	if _, err := c.Extract(context.Background(), "text", nil); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestClient_Unconfigured(t *testing.T) {
	c := NewClient(ClientConfig{})
	if _, err := c.Extract(context.Background(), "text", nil); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
