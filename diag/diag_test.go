package diag

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmgualb/HMC-T1/dataservice"
	"github.com/dmgualb/HMC-T1/ringbuf"
	"github.com/dmgualb/HMC-T1/sensorcat"
)

func testServer(t *testing.T) (*Server, *ringbuf.Buffer) {
	t.Helper()
	catalog, err := sensorcat.New([]sensorcat.Descriptor{
		{Label: "CH4", Unit: "ppm", Format: "%.2f", Tag: sensorcat.TagRaw},
		{Label: "H2", Unit: "ppm", Format: "%.2f", Tag: sensorcat.TagRaw},
	})
	if err != nil {
		t.Fatalf("sensorcat.New: %v", err)
	}
	ring := ringbuf.New(1200, 2)
	data := dataservice.New(ring, catalog)
	return New(ring, data, catalog, time.Now().Add(-time.Minute)), ring
}

func TestHandleStatusReportsRingAndChannels(t *testing.T) {
	s, ring := testServer(t)
	if _, err := ring.Append(0, []float64{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RingDepth != 1 {
		t.Errorf("RingDepth = %d, want 1", got.RingDepth)
	}
	if got.RingWindowSec != 1200 {
		t.Errorf("RingWindowSec = %v, want 1200", got.RingWindowSec)
	}
	if got.Subscribers != 0 {
		t.Errorf("Subscribers = %d, want 0", got.Subscribers)
	}
	if len(got.Channels) != 2 || got.Channels[0] != "CH4" || got.Channels[1] != "H2" {
		t.Errorf("Channels = %v, want [CH4 H2]", got.Channels)
	}
	if got.UptimeSeconds < 50 {
		t.Errorf("UptimeSeconds = %v, want >= ~60", got.UptimeSeconds)
	}
}

func TestHandleChannelsReturnsDescriptors(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/channels", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []sensorcat.Descriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d descriptors, want 2", len(got))
	}
}

func TestHandleHealthzUnavailableWhenRingEmpty(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleHealthzOKWhenRingHasData(t *testing.T) {
	s, ring := testServer(t)
	if _, err := ring.Append(0, []float64{1, 2}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
