package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/state"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(secs int64) string {
		days := secs / 86400
		h := secs / 3600 % 24
		m := secs / 60 % 60
		s := secs % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"list": func(names []string) string {
		if len(names) == 0 {
			return "none"
		}
		return strings.Join(names, ", ")
	},
	"pct": func(v float32) string {
		return fmt.Sprintf("%.1f%%", v*100)
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="1">
<title>Steering Node</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.fresh { color: green; font-weight: bold; }
.stale { color: red; }
.warn { color: orange; }
</style>
</head>
<body>
<h1>Steering Node</h1>

<h2>Inputs</h2>
<table>
<tr><th>Pressed</th><td id="pressed">{{list .Steering.Pressed}}</td></tr>
<tr><th>Toggles</th><td id="toggles">{{list .Steering.Toggles}}</td></tr>
<tr><th>Throttle</th><td id="throttle"{{if .Steering.Throttle.Uncalibrated}} class="warn"{{end}}>{{if .Steering.Throttle.Uncalibrated}}uncalibrated{{else}}{{pct .Steering.Throttle.Position}}{{end}} (raw {{.Steering.Throttle.Raw}})</td></tr>
<tr><th>Brake</th><td id="brake"{{if .Steering.Brake.Uncalibrated}} class="warn"{{end}}>{{if .Steering.Brake.Uncalibrated}}uncalibrated{{else}}{{pct .Steering.Brake.Position}}{{end}} (raw {{.Steering.Brake.Raw}})</td></tr>
<tr><th>Calibrating</th><td>{{if .Steering.Calibrating}}yes{{else}}no{{end}}</td></tr>
<tr><th>Screen</th><td>{{.Steering.Screen}}</td></tr>
</table>

<h2>Peers</h2>
<table>
<tr><th>Vehicle computer</th><td id="vc" class="{{if .VC.Stale}}stale{{else}}fresh{{end}}">{{if .VC.Stale}}stale{{else}}fresh{{end}}{{if .VC.AgeMs}} ({{.VC.AgeMs}}ms){{end}}</td></tr>
{{with .VC.Vehicle}}<tr><th>Speed</th><td>{{printf "%.1f" .Speed}}</td></tr>
<tr><th>Drive mode</th><td>{{.DriveMode}}{{if .Cruise}} cruise{{end}}{{if .Fault}} <span class="stale">FAULT</span>{{end}}</td></tr>{{end}}
<tr><th>Battery</th><td id="bms" class="{{if .BMS.Stale}}stale{{else}}fresh{{end}}">{{if .BMS.Stale}}stale{{else}}fresh{{end}}{{if .BMS.AgeMs}} ({{.BMS.AgeMs}}ms){{end}}</td></tr>
{{with .BMS.Battery}}<tr><th>SOC</th><td>{{pct .SOC}}</td></tr>
<tr><th>Pack</th><td>{{printf "%.1f" .Voltage}}V {{printf "%.1f" .Current}}A {{printf "%.0f" .MaxTemp}}C{{if .Fault}} <span class="stale">FAULT</span>{{end}}</td></tr>{{end}}
</table>

<h2>Links</h2>
<table>
{{range .Links}}<tr><th>{{.Name}} ({{.Addr}})</th><td>sent {{.Sent}}, failed {{.Failed}}, seq {{.Seq}}</td></tr>
{{end}}<tr><th>Received</th><td>accepted {{.Rx.Accepted}}, malformed {{.Rx.Malformed}}, rejected {{.Rx.Rejected}}</td></tr>
<tr><th>Events dropped</th><td>{{.EventsDropped}}</td></tr>
{{if .MQTT}}<tr><th>MQTT</th><td>{{.MQTT}}</td></tr>
{{end}}</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .UptimeSeconds}}</td></tr>
<tr><th>Started</th><td>{{.StartTime}}</td></tr>
<tr><th>Boot</th><td>{{.BootID}}</td></tr>
{{range $name, $n := .Overruns}}<tr><th>Overruns {{$name}}</th><td>{{$n}}</td></tr>
{{end}}</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, st state.StatusInner) {
	if err := indexTmpl.Execute(w, st); err != nil {
		glog.Warningf("web: render: %v", err)
	}
}
