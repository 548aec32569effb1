package types

import (
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestStatusFromLegacy(t *testing.T) {
	tests := []struct {
		name    string
		enabled *bool
		status  string
		want    Status
		wantErr bool
	}{
		{name: "legacy true", enabled: boolPtr(true), want: StatusEnabled},
		{name: "legacy false", enabled: boolPtr(false), want: StatusDisabled},
		{name: "neither", want: StatusEnabled},
		{name: "explicit wins over flag", enabled: boolPtr(true), status: "archived", want: StatusArchived},
		{name: "explicit deprecated", status: "deprecated", want: StatusDeprecated},
		{name: "unknown status", status: "paused", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StatusFromLegacy(tt.enabled, tt.status)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("StatusFromLegacy() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("StatusFromLegacy() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("StatusFromLegacy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRuleRecord_Defaults(t *testing.T) {
	rec := RuleRecord{
		Name:       "legacy",
		Enabled:    boolPtr(false),
		Conditions: []Condition{{Type: ConditionSubject, Operator: OpContains, Value: "invoice", Values: []string{}}},
		Actions:    []Action{{Type: ActionStar, Parameters: map[string]string{}}},
	}
	r, err := rec.Rule()
	if err != nil {
		t.Fatalf("Rule() error = %v, want nil", err)
	}
	if r.Status != StatusDisabled {
		t.Errorf("Status = %v, want disabled", r.Status)
	}
	if r.Logic != LogicAnd {
		t.Errorf("Logic = %v, want and", r.Logic)
	}
	if r.Conditions[0].Values != nil {
		t.Errorf("Values = %#v, want nil", r.Conditions[0].Values)
	}
	if r.Actions[0].Parameters != nil {
		t.Errorf("Parameters = %#v, want nil", r.Actions[0].Parameters)
	}
}

func TestDecodeCapture_LegacyDocument(t *testing.T) {
	doc := []byte(`{
		"version": "1.0",
		"id": "0190a5c2-7c1e-7d3a-9b1e-3f2a1c0d4e5f",
		"created_at": "2024-07-01T10:00:00Z",
		"metadata": {"rule_count": 1, "enabled_count": 0, "disabled_count": 1},
		"rules": [{
			"name": "old",
			"enabled": false,
			"priority": 3,
			"logic": "or",
			"conditions": [{"type": "sender", "operator": "is", "value": "a@b.c"}],
			"actions": [{"type": "delete"}]
		}],
		"checksum": "sha256:00"
	}`)

	c, err := DecodeCapture(doc)
	if err != nil {
		t.Fatalf("DecodeCapture() error = %v, want nil", err)
	}
	if len(c.Rules) != 1 || c.Rules[0].Status != StatusDisabled {
		t.Fatalf("Rules = %+v, want one disabled rule", c.Rules)
	}
	want := time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)
	if !c.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", c.CreatedAt, want)
	}
}

func TestDecodeCapture_UnknownVersion(t *testing.T) {
	_, err := DecodeCapture([]byte(`{"version": "9.9", "rules": []}`))
	if err == nil {
		t.Fatal("DecodeCapture() error = nil, want ErrUnsupportedFormat")
	}
}

func TestEncodeDecodeCapture_Lossless(t *testing.T) {
	r := validRule("alice")
	r.Conditions = append(r.Conditions, Condition{Type: ConditionHeader, Operator: OpIs, Value: "X-List: dev"})
	c := &Capture{
		Version:     CaptureFormatVersion,
		ID:          NewCaptureID(),
		CreatedAt:   time.Date(2025, 3, 4, 5, 6, 7, 890, time.UTC),
		Metadata:    CountStatuses([]Rule{r}),
		Rules:       []Rule{r},
		SieveScript: "require \"fileinto\";\n",
		Checksum:    "sha256:abc",
	}

	data, err := EncodeCapture(c)
	if err != nil {
		t.Fatalf("EncodeCapture() error = %v, want nil", err)
	}
	got, err := DecodeCapture(data)
	if err != nil {
		t.Fatalf("DecodeCapture() error = %v, want nil", err)
	}
	again, err := EncodeCapture(got)
	if err != nil {
		t.Fatalf("EncodeCapture() error = %v, want nil", err)
	}
	if string(again) != string(data) {
		t.Errorf("re-encoded document differs:\n%s\nvs\n%s", again, data)
	}
}
