package reporter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/units"
)

func testBatch(t *testing.T) Batch {
	t.Helper()
	h := units.Length(12.5)
	pos, err := units.NewPosition(units.Angle(51.5), units.Angle(-0.1), nil, units.Accuracy{Horizontal: &h})
	if err != nil {
		t.Fatalf("NewPosition: %v", err)
	}
	return Batch{
		Position: pos,
		Cells: []connectivity.RadioCell{
			{Technology: connectivity.RadioGSM, MCC: 234, MNC: 15, LAC: 1000, CID: 2000},
		},
		APs: []connectivity.WirelessNetwork{
			{BSSID: "aa:bb:cc:dd:ee:ff", FrequencyMHz: 2437, StrengthDBM: -60},
		},
	}
}

func TestHTTPReporterSubmitSuccess(t *testing.T) {
	var gotDoc ichnaeaDocument
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "secret" {
			t.Errorf("missing API key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotDoc); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := NewHTTPReporter(srv.URL, "secret")
	if err := rep.Submit(context.Background(), testBatch(t)); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(gotDoc.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(gotDoc.Items))
	}
	item := gotDoc.Items[0]
	if item.Lat != 51.5 || item.Lon != -0.1 {
		t.Fatalf("lat/lon = %v/%v, want 51.5/-0.1", item.Lat, item.Lon)
	}
	if len(item.Cell) != 1 || item.Cell[0].RadioType != "gsm" {
		t.Fatalf("cell = %+v, want one gsm entry", item.Cell)
	}
	if len(item.Wifi) != 1 || item.Wifi[0].BSSID != "aa:bb:cc:dd:ee:ff" {
		t.Fatalf("wifi = %+v, want one matching entry", item.Wifi)
	}
}

func TestHTTPReporterServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rep := NewHTTPReporter(srv.URL, "")
	err := rep.Submit(context.Background(), testBatch(t))
	if !locerr.Is(err, locerr.KindReporterTransient) {
		t.Fatalf("err = %v, want KindReporterTransient", err)
	}
}

func TestHTTPReporterClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	rep := NewHTTPReporter(srv.URL, "")
	err := rep.Submit(context.Background(), testBatch(t))
	if !locerr.Is(err, locerr.KindReporterPermanent) {
		t.Fatalf("err = %v, want KindReporterPermanent", err)
	}
}
