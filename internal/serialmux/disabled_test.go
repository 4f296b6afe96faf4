package serialmux

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux("left")
	var _ SerialMuxInterface = d

	if _, err := d.ReadChunk(); err != ErrNoData {
		t.Errorf("ReadChunk() error = %v, want ErrNoData", err)
	}
	if err := d.Write([]byte{1}); err != nil {
		t.Errorf("Write() error = %v", err)
	}

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Unsubscribe")
	}

	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	_, ch = d.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscribe after Close should return a closed channel")
	}
}

func TestDisabledSerialMux_AdminRoute(t *testing.T) {
	mux := http.NewServeMux()
	NewDisabledSerialMux("right").AttachAdminRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/serial-right-disabled", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "serial disabled" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}
