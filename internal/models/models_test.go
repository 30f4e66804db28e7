package models

import "testing"

func intPtr(v int) *int { return &v }

func TestSlotsNextFollowsFixedOrder(t *testing.T) {
	cases := []struct {
		name  string
		slots Slots
		want  Slot
		ok    bool
	}{
		{"empty", Slots{}, SlotCity, true},
		{"city only", Slots{City: "Kaunas"}, SlotSpecialty, true},
		{"needs years", Slots{City: "Kaunas", Specialty: "elektrikas"}, SlotYears, true},
		{"availability without years", Slots{City: "Kaunas", Specialty: "elektrikas", Availability: "rytoj"}, SlotYears, true},
		{"needs availability", Slots{City: "Kaunas", Specialty: "elektrikas", Years: intPtr(5)}, SlotAvailability, true},
		{"complete", Slots{City: "Kaunas", Specialty: "elektrikas", Years: intPtr(0), Availability: "rytoj"}, "", false},
	}
	for _, tc := range cases {
		got, ok := tc.slots.Next()
		if got != tc.want || ok != tc.ok {
			t.Errorf("%s: Next() = (%q, %v), want (%q, %v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestSlotsMergeKeepsExisting(t *testing.T) {
	a := Slots{City: "Kaunas", Years: intPtr(3)}
	b := Slots{City: "Vilnius", Specialty: "dažytojas", Years: intPtr(9), Availability: "nuo pirmadienio"}
	m := a.Merge(b)
	if m.City != "Kaunas" {
		t.Errorf("expected city Kaunas, got %q", m.City)
	}
	if m.Specialty != "dažytojas" || m.Availability != "nuo pirmadienio" {
		t.Errorf("expected empty fields filled, got %+v", m)
	}
	if *m.Years != 3 {
		t.Errorf("expected years 3, got %d", *m.Years)
	}
	*b.Years = 1
	if m := (Slots{}).Merge(b); m.Years == b.Years {
		t.Error("Merge must copy years, not alias it")
	}
}

func TestParseIntentAndInterest(t *testing.T) {
	if ParseIntent(" Call_Request ") != IntentCallRequest {
		t.Error("expected call_request to parse")
	}
	if ParseIntent("provide_years") != IntentOther {
		t.Error("expected unknown label to map to other")
	}
	if ParseInterest("YES") != InterestYes || ParseInterest("maybe") != InterestUnknown {
		t.Error("unexpected interest parsing")
	}
	if !IntentSalaryQuestion.IsQuestion() || IntentAccept.IsQuestion() {
		t.Error("unexpected IsQuestion result")
	}
}

func TestMORequestAccessors(t *testing.T) {
	r := MORequest{From: "+37060000000", Text: "domina"}
	if r.Sender() != "+37060000000" || r.Body() != "domina" {
		t.Errorf("unexpected accessors: %q %q", r.Sender(), r.Body())
	}
	r = MORequest{MSISDN: "370", Message: "ne"}
	if r.Sender() != "370" || r.Body() != "ne" {
		t.Errorf("msisdn/message should win: %q %q", r.Sender(), r.Body())
	}
}
