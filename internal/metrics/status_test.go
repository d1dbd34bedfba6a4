package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/freeabode/thermocore/internal/busproto"
)

func TestStatusHandlerRendersSnapshot(t *testing.T) {
	var s Store
	s.Set(Snapshot{
		Wires: []busproto.RelayChange{{Wire: busproto.WireG, Value: busproto.On}},
		Goals: busproto.ControllerGoals{Mode: busproto.ModeCool, CoolSetpointCentiC: 2400},
		Weather: &busproto.WeatherReading{TemperatureCentiC: 2150, HumidityPerMille: 450},
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"G", "2400", "2150", "450"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestStatusHandlerNoWeatherYet(t *testing.T) {
	var s Store
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler()(rec, req)

	if !strings.Contains(rec.Body.String(), "No reading yet") {
		t.Fatalf("expected a placeholder message, got:\n%s", rec.Body.String())
	}
}
