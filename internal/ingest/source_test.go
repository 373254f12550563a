package ingest

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCSV(t *testing.T) {
	t.Run("canonical headers", func(t *testing.T) {
		path := writeSource(t, "txns.csv",
			"account_ref,ts,amount,currency,counterparty,direction\n"+
				"ACC-001,2025-02-01T10:00:00Z,15000.00,USD,Acme Corp,out\n"+
				"ACC-002,2025-02-01T11:00:00Z,50.00,EUR,Globex,in\n")
		records, err := ReadCSV(path)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("records = %d, want 2", len(records))
		}
		r := records[0]
		if r.AccountRef != "ACC-001" || r.Amount != "15000.00" || r.Counterparty != "Acme Corp" {
			t.Errorf("record = %+v", r)
		}
	})

	t.Run("aliased headers", func(t *testing.T) {
		path := writeSource(t, "export.csv",
			"IBAN,Booking Date,Transaction Amount,CCY,Beneficiary Name,Dr-Cr,Customer Country\n"+
				"DE89370400440532013000,2025-02-01 10:00:00,1234.50,EUR,ACME GMBH,DR,DE\n")
		records, err := ReadCSV(path)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("records = %d, want 1", len(records))
		}
		r := records[0]
		if r.AccountRef != "DE89370400440532013000" {
			t.Errorf("AccountRef = %q", r.AccountRef)
		}
		if r.Timestamp != "2025-02-01 10:00:00" || r.Amount != "1234.50" || r.Currency != "EUR" {
			t.Errorf("record = %+v", r)
		}
		if r.Counterparty != "ACME GMBH" || r.Direction != "DR" || r.CustomerCountry != "DE" {
			t.Errorf("record = %+v", r)
		}
	})

	t.Run("short rows padded", func(t *testing.T) {
		path := writeSource(t, "short.csv",
			"account_ref,ts,amount,currency\nACC-001,2025-02-01T10:00:00Z,5.00\n")
		records, err := ReadCSV(path)
		if err != nil {
			t.Fatalf("ReadCSV failed: %v", err)
		}
		if records[0].Currency != "" {
			t.Errorf("Currency = %q, want empty", records[0].Currency)
		}
	})

	t.Run("unrecognizable header fails", func(t *testing.T) {
		path := writeSource(t, "bad.csv", "foo,bar,baz\n1,2,3\n")
		if _, err := ReadCSV(path); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		path := writeSource(t, "empty.csv", "")
		records, err := ReadCSV(path)
		if err != nil || records != nil {
			t.Errorf("records = %v, err = %v", records, err)
		}
	})
}

func TestReadJSONL(t *testing.T) {
	path := writeSource(t, "txns.jsonl",
		`{"account_id": "ACC-001", "timestamp": "2025-02-01T10:00:00Z", "amount": 15000.5, "currency": "USD"}`+"\n"+
			"\n"+
			`{"iban": "ACC-002", "date": 1736937000, "value": "20.00"}`+"\n")
	records, err := ReadJSONL(path)
	if err != nil {
		t.Fatalf("ReadJSONL failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].AccountRef != "ACC-001" || records[0].Amount != "15000.5" {
		t.Errorf("record = %+v", records[0])
	}
	if records[1].AccountRef != "ACC-002" || records[1].Timestamp != "1736937000" || records[1].Amount != "20.00" {
		t.Errorf("record = %+v", records[1])
	}
}

func TestReadFile(t *testing.T) {
	if _, err := ReadFile("txns.xlsx"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
