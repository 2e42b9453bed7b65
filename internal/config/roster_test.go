package config

import "testing"

func TestDeriveShortName(t *testing.T) {
	cases := map[string]string{
		"LEFT_ARM":   "LA",
		"RIGHT_LEG":  "RL",
		"CENTRAL_PI": "CP",
		"Hip":        "H",
	}
	for in, want := range cases {
		if got := DeriveShortName(in); got != want {
			t.Errorf("DeriveShortName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRosterValidate(t *testing.T) {
	t.Run("valid roster passes", func(t *testing.T) {
		r := Roster{
			{Address: "08:D1:F9:DF:D7:BA", DisplayName: "RIGHT_ARM"},
			{Address: "08:D1:F9:C7:14:DE", DisplayName: "LEFT_ARM"},
		}.Normalize()
		if err := r.Validate(); err != nil {
			t.Fatalf("Validate() = %v, want nil", err)
		}
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		r := Roster{{Address: "not-a-mac", DisplayName: "X"}}
		if err := r.Validate(); err == nil {
			t.Fatal("Validate() = nil, want error for malformed address")
		}
	})

	t.Run("rejects duplicate address", func(t *testing.T) {
		r := Roster{
			{Address: "08:D1:F9:DF:D7:BA", DisplayName: "A"},
			{Address: "08:D1:F9:DF:D7:BA", DisplayName: "B"},
		}
		if err := r.Validate(); err == nil {
			t.Fatal("Validate() = nil, want error for duplicate address")
		}
	})

	t.Run("rejects duplicate short name", func(t *testing.T) {
		r := Roster{
			{Address: "08:D1:F9:DF:D7:BA", DisplayName: "LEFT_ARM", ShortName: "X"},
			{Address: "08:D1:F9:C7:14:DE", DisplayName: "LEFT_LEG", ShortName: "X"},
		}
		if err := r.Validate(); err == nil {
			t.Fatal("Validate() = nil, want error for duplicate short_name")
		}
	})

	t.Run("rejects empty roster", func(t *testing.T) {
		var r Roster
		if err := r.Validate(); err == nil {
			t.Fatal("Validate() = nil, want error for empty roster")
		}
	})
}
