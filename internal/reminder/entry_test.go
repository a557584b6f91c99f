package reminder

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Date
		wantErr bool
	}{
		{in: "15-08-1995", want: Date{Day: 15, Month: time.August, Year: 1995}},
		{in: " 01-01-2000 ", want: Date{Day: 1, Month: time.January, Year: 2000}},
		{in: "29-02-2000", want: Date{Day: 29, Month: time.February, Year: 2000}},
		{in: "29-02-2001", wantErr: true},
		{in: "31-04-2000", wantErr: true},
		{in: "5-8-1995", wantErr: true},
		{in: "1995-08-15", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDate(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDate(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDate(%q)=%v want %v", tt.in, got, tt.want)
		}
		if got.String() != strings.TrimSpace(tt.in) {
			t.Fatalf("String()=%q want %q", got.String(), strings.TrimSpace(tt.in))
		}
	}
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{in: "09:00", want: Clock{Hour: 9}},
		{in: "23:59", want: Clock{Hour: 23, Minute: 59}},
		{in: "00:00", want: Clock{}},
		{in: "24:00", wantErr: true},
		{in: "9:00", wantErr: true},
		{in: "09:60", wantErr: true},
		{in: "0900", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseClock(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseClock(%q) expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseClock(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseClock(%q)=%v want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	if k, err := ParseKind("birthday"); err != nil || k != KindBirthday {
		t.Fatalf("birthday: %v %v", k, err)
	}
	if k, err := ParseKind(" Anniversary "); err != nil || k != KindAnniversary {
		t.Fatalf("anniversary: %v %v", k, err)
	}
	if _, err := ParseKind("wedding"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestOccurrenceKey(t *testing.T) {
	t.Parallel()

	e := Entry{ID: "abc", RecipientID: 1, Kind: KindBirthday, Name: "A", Date: "01-01-2000", Time: "09:00"}
	if got := OccurrenceKey(e, 2024); got != "abc:2024" {
		t.Fatalf("got %q", got)
	}

	legacy := e
	legacy.ID = ""
	k1 := OccurrenceKey(legacy, 2024)
	k2 := OccurrenceKey(legacy, 2024)
	if k1 != k2 || !strings.HasSuffix(k1, ":2024") {
		t.Fatalf("legacy key not stable: %q %q", k1, k2)
	}
	other := legacy
	other.Name = "B"
	if OccurrenceKey(other, 2024) == k1 {
		t.Fatalf("different entries share a key")
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	got, err := Render(KindBirthday, "Asha", 29)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Asha") || !strings.Contains(got, "29") {
		t.Fatalf("birthday text missing name or years: %q", got)
	}

	got, err = Render(KindAnniversary, " Ravi & Meena ", 10)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "Ravi & Meena ki") || !strings.Contains(got, "10vi") {
		t.Fatalf("anniversary text: %q", got)
	}

	if _, err := Render(Kind("Other"), "x", 1); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}
