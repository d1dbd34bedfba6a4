package metrics

import (
	"bytes"
	"html/template"
	"io"
	"net/http"
	"sync"

	"github.com/freeabode/thermocore/internal/busproto"
)

const statusTmplContents = `
<!DOCTYPE html>
<title>thermocore</title>
<body>
<h1>HVAC wires</h1>
<table width="100%">
<tr><th>Wire</th><th>State</th></tr>
{{ range .Wires }}
<tr><td>{{ .Wire }}</td><td>{{ .Value }}</td></tr>
{{ end }}
</table>
<h1>Thermostat</h1>
<ul>
<li>Mode: {{ .Goals.Mode }}</li>
<li>Heat setpoint: {{ .Goals.HeatSetpointCentiC }} centi-&deg;C</li>
<li>Cool setpoint: {{ .Goals.CoolSetpointCentiC }} centi-&deg;C</li>
<li>Hysteresis: {{ .Goals.HysteresisCentiC }} centi-&deg;C</li>
</ul>
<h1>Weather</h1>
{{ if .Weather }}
<ul>
<li>Temperature: {{ .Weather.TemperatureCentiC }} centi-&deg;C</li>
<li>Humidity: {{ .Weather.HumidityPerMille }} per-mille</li>
</ul>
{{ else }}
<p>No reading yet.</p>
{{ end }}
`

var statusTmpl = template.Must(template.New("status").Parse(statusTmplContents))

// Snapshot is the state Store.Handler renders, assembled by the caller
// from whichever components it has local to it (a single process may
// run only some of the drivers).
type Snapshot struct {
	Wires   []busproto.RelayChange
	Goals   busproto.ControllerGoals
	Weather *busproto.WeatherReading
}

// Store holds the most recent Snapshot behind a mutex, for handlers that
// want to serve a live status page backed by whatever the process has
// observed over the bus so far.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
}

func (s *Store) Set(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
}

func (s *Store) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snap
	snap.Wires = append([]busproto.RelayChange(nil), s.snap.Wires...)
	return snap
}

// Handler renders the status page for the Store's current Snapshot.
func (s *Store) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := statusTmpl.Execute(&buf, s.Get()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		io.Copy(w, &buf)
	}
}
