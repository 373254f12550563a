package canonical

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/opensource-finance/kite/internal/domain"
)

func baseRecord() domain.RawRecord {
	return domain.RawRecord{
		AccountRef:   "ACC-001",
		Timestamp:    "2025-01-15T10:30:00Z",
		Amount:       "1234.50",
		Currency:     "usd",
		Counterparty: "  Acme Corp ",
		Direction:    "OUT",
	}
}

func TestCanonicalize(t *testing.T) {
	opts := Options{DefaultCurrency: "USD"}

	t.Run("normalizes fields", func(t *testing.T) {
		tx, err := Canonicalize(baseRecord(), opts)
		if err != nil {
			t.Fatalf("Canonicalize() error = %v", err)
		}
		if tx.Currency != "USD" {
			t.Errorf("Currency = %q, want USD", tx.Currency)
		}
		if tx.Counterparty != "Acme Corp" {
			t.Errorf("Counterparty = %q, want trimmed", tx.Counterparty)
		}
		if tx.Direction != "out" {
			t.Errorf("Direction = %q, want out", tx.Direction)
		}
		if tx.AmountCanonical != "1234.50" {
			t.Errorf("AmountCanonical = %q, want 1234.50", tx.AmountCanonical)
		}
		if tx.Timestamp.Location() != time.UTC {
			t.Errorf("Timestamp not UTC: %v", tx.Timestamp)
		}
	})

	t.Run("missing account ref rejected", func(t *testing.T) {
		rec := baseRecord()
		rec.AccountRef = "   "
		_, err := Canonicalize(rec, opts)
		var rej *RejectError
		if !errors.As(err, &rej) || rej.Reason != ReasonMissingAccountRef {
			t.Fatalf("err = %v, want %s", err, ReasonMissingAccountRef)
		}
	})

	t.Run("bad amount rejected not zeroed", func(t *testing.T) {
		rec := baseRecord()
		rec.Amount = "not-a-number"
		_, err := Canonicalize(rec, opts)
		var rej *RejectError
		if !errors.As(err, &rej) || rej.Reason != ReasonBadAmount {
			t.Fatalf("err = %v, want %s", err, ReasonBadAmount)
		}
	})

	t.Run("missing timestamp rejected", func(t *testing.T) {
		rec := baseRecord()
		rec.Timestamp = ""
		_, err := Canonicalize(rec, opts)
		var rej *RejectError
		if !errors.As(err, &rej) || rej.Reason != ReasonMissingTimestamp {
			t.Fatalf("err = %v, want %s", err, ReasonMissingTimestamp)
		}
	})

	t.Run("default currency applied", func(t *testing.T) {
		rec := baseRecord()
		rec.Currency = ""
		tx, err := Canonicalize(rec, opts)
		if err != nil {
			t.Fatalf("Canonicalize() error = %v", err)
		}
		if tx.Currency != "USD" {
			t.Errorf("Currency = %q, want USD default", tx.Currency)
		}
	})

	t.Run("multibyte currency truncates on rune boundary", func(t *testing.T) {
		rec := baseRecord()
		rec.Currency = "евро"
		tx, err := Canonicalize(rec, opts)
		if err != nil {
			t.Fatalf("Canonicalize() error = %v", err)
		}
		if tx.Currency != "ЕВР" {
			t.Errorf("Currency = %q, want ЕВР", tx.Currency)
		}
		if !utf8.ValidString(tx.Currency) {
			t.Errorf("Currency %q is not valid UTF-8", tx.Currency)
		}
	})

	t.Run("customer name falls back to account ref", func(t *testing.T) {
		rec := baseRecord()
		rec.CustomerName = ""
		tx, err := Canonicalize(rec, opts)
		if err != nil {
			t.Fatalf("Canonicalize() error = %v", err)
		}
		if tx.CustomerName != "ACC-001" {
			t.Errorf("CustomerName = %q, want ACC-001", tx.CustomerName)
		}
	})
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name string
		raw  string
	}{
		{"rfc3339 z", "2025-01-15T10:30:00Z"},
		{"rfc3339 offset", "2025-01-15T10:30:00+00:00"},
		{"zoneless t", "2025-01-15T10:30:00"},
		{"zoneless space", "2025-01-15 10:30:00"},
		{"epoch seconds", "1736937000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTimestamp(tc.raw)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error = %v", tc.raw, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.raw, got, want)
			}
		})
	}

	t.Run("garbage rejected", func(t *testing.T) {
		if _, err := ParseTimestamp("next tuesday"); err == nil {
			t.Fatal("expected error for unparseable timestamp")
		}
	})
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		raw   string
		canon string
	}{
		{"1234.5", "1234.50"},
		{"1,234.50", "1234.50"},
		{"$1234.50", "1234.50"},
		{"1234.504", "1234.50"},
		{"1234.505", "1234.51"},
		{"USD 1234.50", "1234.50"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			_, canon, err := parseAmount(tc.raw)
			if err != nil {
				t.Fatalf("parseAmount(%q) error = %v", tc.raw, err)
			}
			if canon != tc.canon {
				t.Errorf("parseAmount(%q) canonical = %q, want %q", tc.raw, canon, tc.canon)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	opts := Options{DefaultCurrency: "USD"}

	t.Run("equivalent notations collide", func(t *testing.T) {
		a := baseRecord()
		b := baseRecord()
		b.Timestamp = "2025-01-15T10:30:00+00:00"
		b.Currency = "USD"
		b.Counterparty = "ACME CORP"
		b.Direction = "out"
		b.Amount = "1,234.50"

		ta, err := Canonicalize(a, opts)
		if err != nil {
			t.Fatal(err)
		}
		tb, err := Canonicalize(b, opts)
		if err != nil {
			t.Fatal(err)
		}
		if Fingerprint(7, ta) != Fingerprint(7, tb) {
			t.Error("fingerprints differ for equivalent records")
		}
	})

	t.Run("distinct records differ", func(t *testing.T) {
		a := baseRecord()
		b := baseRecord()
		b.Amount = "1234.51"

		ta, _ := Canonicalize(a, opts)
		tb, _ := Canonicalize(b, opts)
		if Fingerprint(7, ta) == Fingerprint(7, tb) {
			t.Error("fingerprints collide for different amounts")
		}
	})

	t.Run("account scoped", func(t *testing.T) {
		tx, _ := Canonicalize(baseRecord(), opts)
		if Fingerprint(1, tx) == Fingerprint(2, tx) {
			t.Error("fingerprint ignores owning account")
		}
	})

	t.Run("hex sha256", func(t *testing.T) {
		tx, _ := Canonicalize(baseRecord(), opts)
		fp := Fingerprint(1, tx)
		if len(fp) != 64 || strings.ToLower(fp) != fp {
			t.Errorf("fingerprint %q is not lower-hex sha256", fp)
		}
	})
}

func TestParseBaseRisk(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"low", 5},
		{"medium", 15},
		{"high", 25},
		{"", 10},
		{"42.5", 42.5},
		{"unknown-band", 10},
	}
	for _, tc := range cases {
		if got := parseBaseRisk(tc.raw); got != tc.want {
			t.Errorf("parseBaseRisk(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}
