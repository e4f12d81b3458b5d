package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/sweeney/irrigationd/internal/schedule"
	"github.com/sweeney/irrigationd/internal/station"
	"github.com/sweeney/irrigationd/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": formatUptime,
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("2006-01-02 15:04:05")
	},
	"stateClass": func(s station.State) string {
		if s == station.StateOn {
			return "on"
		}
		return "off"
	},
}).Parse(indexHTML))

// formatUptime renders d as "3d 4h 5m 6s", omitting leading zero units.
func formatUptime(d time.Duration) string {
	secs := int64(d / time.Second)
	units := []struct {
		n      int64
		suffix string
	}{
		{secs / 86400, "d"},
		{secs / 3600 % 24, "h"},
		{secs / 60 % 60, "m"},
	}
	var b strings.Builder
	for _, u := range units {
		if u.n > 0 || b.Len() > 0 {
			fmt.Fprintf(&b, "%d%s ", u.n, u.suffix)
		}
	}
	fmt.Fprintf(&b, "%ds", secs%60)
	return b.String()
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Irrigation</title>
<style>
body { font-family: sans-serif; max-width: 760px; margin: 1.5em auto; padding: 0 1em; color: #222; }
h2 { font-size: 1.1em; margin-top: 1.5em; border-bottom: 2px solid #4a7; }
table.grid { border-collapse: collapse; width: 100%; }
table.grid td, table.grid th { text-align: left; padding: 3px 6px; }
table.grid tr:nth-child(even) { background: #f4f8f4; }
.on { color: #2a7; font-weight: bold; }
.off { color: #999; }
.up { color: #2a7; }
.down { color: #c33; }
</style>
</head>
<body>
<h1>Irrigation</h1>

<h2>Stations</h2>
<table class="grid">
<tr><th>Station</th><th>State</th><th>Auto off</th><th>Last event</th></tr>
{{range .Stations}}<tr>
<td>{{.Name}} <small>({{.ID}})</small></td>
<td class="{{stateClass .State}}">{{.State}}</td>
<td>{{if .OffAt}}{{clock .OffAt}}{{else}}-{{end}}</td>
<td>{{with .LastEvent}}{{.Action}} at {{clock .Time}}{{else}}-{{end}}</td>
</tr>{{else}}<tr><td colspan="4">no stations</td></tr>{{end}}
</table>

<h2>Upcoming</h2>
<table class="grid">
<tr><th>Schedule</th><th>Next</th><th>Previous</th></tr>
{{range .Jobs}}<tr><td>{{.Name}}</td><td>{{clock .Next}}</td><td>{{clock .Prev}}</td></tr>
{{else}}<tr><td colspan="3">no active schedules</td></tr>{{end}}
</table>

<h2>System</h2>
<table class="grid">
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.Snapshot.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Timezone</th><td>{{.Snapshot.Config.Timezone}}</td></tr>
<tr><th>Schedules</th><td>{{.Snapshot.Counts.Schedules}} ({{.Snapshot.Counts.Jobs}} active)</td></tr>
<tr><th>MQTT</th><td>{{if not .Snapshot.MQTTEnabled}}disabled{{else if .Snapshot.MQTTConnected}}<span class="up">connected</span>{{else}}<span class="down">disconnected</span>{{end}}</td></tr>
{{if .Snapshot.MQTTEnabled}}<tr><th>Broker</th><td>{{.Snapshot.Config.Broker}}</td></tr>{{end}}
</table>

<p><a href="/status">JSON</a> · <a href="/events">events</a></p>
</body>
</html>
`

type indexPage struct {
	Snapshot status.Snapshot
	Stations []station.Info
	Jobs     []schedule.JobInfo
	Uptime   time.Duration
}

func renderHTML(w io.Writer, page indexPage) error {
	// Snapshot has an Uptime() method but the template needs a value.
	page.Uptime = page.Snapshot.Uptime()
	return indexTmpl.Execute(w, page)
}
