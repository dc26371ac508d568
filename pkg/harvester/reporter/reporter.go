// Package reporter defines the Reporter contract the Harvester submits
// batched observations to, plus two concrete implementations: HTTPReporter
// speaks the Mozilla/Ichnaea-style geolocation wire format, GoogleReporter
// the Google Maps Geolocation API.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"googlemaps.github.io/maps"

	"github.com/ubports/locationd/pkg/connectivity"
	"github.com/ubports/locationd/pkg/locerr"
	"github.com/ubports/locationd/pkg/units"
)

// Batch is one coalesced submission: the current fix plus the radio
// environment observed alongside it.
type Batch struct {
	Position units.Position
	Cells    []connectivity.RadioCell
	APs      []connectivity.WirelessNetwork
}

// Reporter submits a Batch to an external geolocation database. Submit
// blocks its caller until the request completes or fails; it is never
// called concurrently with itself by Harvester, which coalesces to at most
// one in-flight submission.
type Reporter interface {
	Submit(ctx context.Context, batch Batch) error
}

// ichnaeaItem is one entry of the Mozilla/Ichnaea-style wire document.
type ichnaeaItem struct {
	Lat      float64       `json:"lat"`
	Lon      float64       `json:"lon"`
	Accuracy float64       `json:"accuracy,omitempty"`
	Cell     []ichnaeaCell `json:"cell,omitempty"`
	Wifi     []ichnaeaWifi `json:"wifi,omitempty"`
}

type ichnaeaCell struct {
	RadioType string `json:"radioType"`
	MCC       int    `json:"mobileCountryCode"`
	MNC       int    `json:"mobileNetworkCode"`
	LAC       int    `json:"locationAreaCode,omitempty"`
	CID       int    `json:"cellId,omitempty"`
}

type ichnaeaWifi struct {
	BSSID         string `json:"macAddress"`
	SignalStrength int   `json:"signalStrength,omitempty"`
	Frequency     int    `json:"frequency,omitempty"`
}

type ichnaeaDocument struct {
	Items []ichnaeaItem `json:"items"`
}

// HTTPReporter POSTs a Batch as an Ichnaea-style JSON document to a
// configured instance URL with a header-borne API key. 2xx is success;
// anything else drops the batch: a 5xx or network error is transient,
// anything else permanent.
type HTTPReporter struct {
	InstanceURL string
	APIKey      string
	Client      *http.Client
}

// NewHTTPReporter constructs an HTTPReporter with a 10s default client
// timeout.
func NewHTTPReporter(instanceURL, apiKey string) *HTTPReporter {
	return &HTTPReporter{
		InstanceURL: instanceURL,
		APIKey:      apiKey,
		Client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit implements Reporter.
func (r *HTTPReporter) Submit(ctx context.Context, batch Batch) error {
	doc := ichnaeaDocument{Items: []ichnaeaItem{toIchnaeaItem(batch)}}
	body, err := json.Marshal(doc)
	if err != nil {
		return locerr.Wrap(locerr.KindReporterPermanent, "encode", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.InstanceURL, bytes.NewReader(body))
	if err != nil {
		return locerr.Wrap(locerr.KindReporterPermanent, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("X-Api-Key", r.APIKey)
	}

	resp, err := r.Client.Do(req)
	if err != nil {
		return locerr.Wrap(locerr.KindReporterTransient, "post", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		if resp.StatusCode >= 500 {
			return locerr.Wrap(locerr.KindReporterTransient, fmt.Sprintf("status %d", resp.StatusCode), nil)
		}
		return locerr.Wrap(locerr.KindReporterPermanent, fmt.Sprintf("status %d", resp.StatusCode), nil)
	}
	return nil
}

func toIchnaeaItem(batch Batch) ichnaeaItem {
	item := ichnaeaItem{Lat: batch.Position.Latitude.Degrees(), Lon: batch.Position.Longitude.Degrees()}
	if batch.Position.Accuracy.Horizontal != nil {
		item.Accuracy = batch.Position.Accuracy.Horizontal.Meters()
	}
	for _, c := range batch.Cells {
		item.Cell = append(item.Cell, ichnaeaCell{
			RadioType: radioTypeName(c.Technology),
			MCC:       c.MCC, MNC: c.MNC, LAC: c.LAC, CID: c.CID,
		})
	}
	for _, ap := range batch.APs {
		item.Wifi = append(item.Wifi, ichnaeaWifi{
			BSSID:          ap.BSSID,
			SignalStrength: int(ap.StrengthDBM),
			Frequency:      ap.FrequencyMHz,
		})
	}
	return item
}

func radioTypeName(t connectivity.RadioTechnology) string {
	switch t {
	case connectivity.RadioGSM:
		return "gsm"
	case connectivity.RadioUMTS:
		return "umts"
	case connectivity.RadioLTE:
		return "lte"
	case connectivity.RadioCDMA:
		return "cdma"
	default:
		return "gsm"
	}
}

// GoogleReporter submits a Batch via the Google Maps Geolocation API, a
// second selectable Reporter implementation alongside HTTPReporter; neither
// is privileged by the Harvester, which only depends on the Reporter
// interface.
type GoogleReporter struct {
	client *maps.Client
}

// NewGoogleReporter constructs a GoogleReporter authenticated with apiKey.
func NewGoogleReporter(apiKey string) (*GoogleReporter, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, locerr.Wrap(locerr.KindReporterPermanent, "new maps client", err)
	}
	return &GoogleReporter{client: client}, nil
}

// Submit implements Reporter. Unlike HTTPReporter this call doesn't report
// a position to the database: the Google API only accepts cell/wifi
// observations and returns its own location estimate. This Reporter serves
// as an opportunistic cross-check; the returned estimate is discarded and
// never fed back into the Engine.
func (g *GoogleReporter) Submit(ctx context.Context, batch Batch) error {
	req := &maps.GeolocationRequest{ConsiderIP: false}
	for _, c := range batch.Cells {
		req.CellTowers = append(req.CellTowers, maps.CellTower{
			CellID:            c.CID,
			LocationAreaCode:  c.LAC,
			MobileCountryCode: c.MCC,
			MobileNetworkCode: c.MNC,
		})
	}
	for _, ap := range batch.APs {
		req.WiFiAccessPoints = append(req.WiFiAccessPoints, maps.WiFiAccessPoint{
			MACAddress:     ap.BSSID,
			SignalStrength: float64(ap.StrengthDBM),
		})
	}
	if len(req.CellTowers) == 0 && len(req.WiFiAccessPoints) == 0 {
		return locerr.Wrap(locerr.KindReporterPermanent, "no radio observations to submit", nil)
	}

	_, err := g.client.Geolocate(ctx, req)
	if err != nil {
		return locerr.Wrap(locerr.KindReporterTransient, "geolocate", err)
	}
	return nil
}
