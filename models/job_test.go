package models

import "testing"

func TestValidateJobTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{JobQueued, JobRunning, true},
		{JobQueued, JobFailed, true},
		{JobRunning, JobSucceeded, true},
		{JobRunning, JobPartiallySucceeded, true},
		{JobRunning, JobFailed, true},
		{JobQueued, JobSucceeded, false},
		{JobSucceeded, JobRunning, false},
		{JobFailed, JobRunning, false},
	}

	for _, tt := range tests {
		err := ValidateJobTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateJobTransition(%s, %s) error = %v; want ok=%v", tt.from, tt.to, err, tt.ok)
		}
	}
}

func TestCountsAdd(t *testing.T) {
	c := Counts{Seen: 1, New: 1}
	c.Add(Counts{Seen: 2, Updated: 2, Errors: 1, Rejected: 3})
	want := Counts{Seen: 3, New: 1, Updated: 2, Errors: 1, Rejected: 3}
	if c != want {
		t.Errorf("Add: got %+v, want %+v", c, want)
	}
}

func TestParseEnums(t *testing.T) {
	tests := []struct {
		raw  string
		want PropertyType
	}{
		{"House", PropertyHouse},
		{"Rodinný dům", PropertyHouse},
		{"Prodej bytu 3+kk", PropertyApartment},
		{"Pozemek k bydlení", PropertyLand},
		{"", PropertyOther},
	}
	for _, tt := range tests {
		if got := ParsePropertyType(tt.raw); got != tt.want {
			t.Errorf("ParsePropertyType(%q) = %s; want %s", tt.raw, got, tt.want)
		}
	}

	if got := ParseOfferType("Pronájem"); got != OfferRent {
		t.Errorf("ParseOfferType: got %s", got)
	}
	if got := ParseCondition("Velmi dobrý"); got != ConditionVeryGood {
		t.Errorf("ParseCondition: got %s", got)
	}
	if got := ParseConstruction("Cihlová"); got != ConstructionBrick {
		t.Errorf("ParseConstruction: got %s", got)
	}
	if got := ParseConstruction(""); got != ConstructionUnknown {
		t.Errorf("ParseConstruction empty: got %s", got)
	}
}
