package gpsconf

import (
	"reflect"
	"testing"
)

const sample = `
# sample gps.conf
SUPL_HOST=supl.google.com
SUPL_PORT=7275
XTRA_SERVER_1=http://xtra1.gpsonextra.net/xtra.bin
XTRA_SERVER_2=http://xtra2.gpsonextra.net/xtra.bin
XTRA_SERVER_3=http://xtra3.gpsonextra.net/xtra.bin
NTP_SERVER=time.android.com
DEBUG_LEVEL=3
UNKNOWN_VENDOR_KEY=whatever
`

func TestParse(t *testing.T) {
	cfg := Parse(sample)

	wantHosts := []string{
		"http://xtra1.gpsonextra.net/xtra.bin",
		"http://xtra2.gpsonextra.net/xtra.bin",
		"http://xtra3.gpsonextra.net/xtra.bin",
	}
	if got := cfg.XTRAHosts(); !reflect.DeepEqual(got, wantHosts) {
		t.Fatalf("XTRAHosts() = %v, want %v", got, wantHosts)
	}

	host, port := cfg.SUPL()
	if host != "supl.google.com" || port != 7275 {
		t.Fatalf("SUPL() = (%q, %d), want (\"supl.google.com\", 7275)", host, port)
	}

	if cfg.NTPServer != "time.android.com" {
		t.Fatalf("NTPServer = %q, want time.android.com", cfg.NTPServer)
	}
	if cfg.DebugLevel != 3 {
		t.Fatalf("DebugLevel = %d, want 3", cfg.DebugLevel)
	}
	if v, ok := cfg.Extra["UNKNOWN_VENDOR_KEY"]; !ok || v != "whatever" {
		t.Fatalf("Extra[UNKNOWN_VENDOR_KEY] = %q, %v, want whatever, true", v, ok)
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	cfg := Parse("# just a comment\n\n\nSUPL_PORT=1\n")
	if cfg.SUPLPort != 1 {
		t.Fatalf("SUPLPort = %d, want 1", cfg.SUPLPort)
	}
}

func TestParseEmptyDocument(t *testing.T) {
	cfg := Parse("")
	if len(cfg.XTRAHosts()) != 0 {
		t.Fatalf("XTRAHosts() = %v, want empty", cfg.XTRAHosts())
	}
	if cfg.SUPLPort != 0 {
		t.Fatalf("SUPLPort = %d, want 0", cfg.SUPLPort)
	}
}
