package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/coffee-machine/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
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
	"yesno": func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Coffee Machine</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.bad { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
button { font-family: monospace; margin: 0 4px 4px 0; }
</style>
</head>
<body>
<h1>Coffee Machine<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Machine</h2>
<table>
<tr><th>Step</th><td id="current_step">{{.Machine.Step}}</td></tr>
<tr><th>Temperature</th><td><span id="temperature">{{printf "%.1f" .Machine.Temperature}}</span> &deg;C</td></tr>
<tr><th>Powered on</th><td id="powered_on">{{yesno .Machine.PoweredOn}}</td></tr>
<tr><th>Water flow</th><td><span id="water_flow">{{.Machine.WaterFlow}}</span> ml/s</td></tr>
<tr><th>Water</th><td id="water_ok" class="{{if .Machine.WaterOK}}ok{{else}}bad{{end}}">{{if .Machine.WaterOK}}ok{{else}}empty{{end}}</td></tr>
<tr><th>Grounds</th><td id="grounds_ok" class="{{if .Machine.GroundsOK}}ok{{else}}bad{{end}}">{{if .Machine.GroundsOK}}ok{{else}}full{{end}}</td></tr>
<tr><th>Cups since filled</th><td id="cups_since_filled">{{.Machine.CupsSinceFilled}}</td></tr>
<tr><th>Cups since emptied</th><td id="cups_since_empty">{{.Machine.CupsSinceEmpty}}</td></tr>
</table>

<p>
<button data-cmd="HeatUp">Heat up</button>
<button data-cmd="CoolDown">Cool down</button>
<button data-cmd="WaterFillUp">Fill water</button>
<button data-cmd="GroundClearing">Empty grounds</button>
<button data-brew="Normal">Brew Normal</button>
<button data-brew="Espresso">Brew Espresso</button>
</p>
{{if .Config.GPIO}}
<h2>Panel</h2>
<table>
<tr><th>Switches settled</th><td>{{yesno .Panel.Baselined}}</td></tr>
<tr><th>Water tank seated</th><td>{{yesno .Panel.TankSeated}}</td></tr>
<tr><th>Grounds drawer seated</th><td>{{yesno .Panel.DrawerSeated}}</td></tr>
<tr><th>Tank re-seats</th><td>{{.Panel.Counts.TankSeated}}</td></tr>
<tr><th>Drawer re-seats</th><td>{{.Panel.Counts.DrawerSeated}}</td></tr>
</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>Observers</th><td>{{.Observers}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Standby after</th><td>{{.Config.StandbyAfterS}}s</td></tr>
<tr><th>Cool down after</th><td>{{.Config.CoolDownAfterS}}s</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatS 0}}disabled{{else}}{{.Config.HeartbeatS}}s{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/history">History</a> | <a href="/metrics">Metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws;

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }
  function flag(id, ok, good, bad) {
    var el = document.getElementById(id);
    el.textContent = ok ? good : bad;
    el.className = ok ? "ok" : "bad";
  }
  function send(words) {
    if (!ws || ws.readyState !== 1) { return; }
    words.forEach(function(w) { ws.send(w); });
  }

  document.querySelectorAll("button[data-cmd]").forEach(function(b) {
    b.onclick = function() { send([b.dataset.cmd]); };
  });
  document.querySelectorAll("button[data-brew]").forEach(function(b) {
    b.onclick = function() { send(["Brew", "1", b.dataset.brew]); };
  });

  function connect() {
    ws = new WebSocket(proto + location.host + "/ws?format=json");
    ws.onopen = function() { setDot("ok", "live"); };
    ws.onclose = function() { setDot("err", "offline"); setTimeout(connect, 5000); };
    ws.onmessage = function(ev) {
      try {
        var msg = JSON.parse(ev.data);
        if (msg.type !== "status") { return; }
        var d = msg.data;
        text("current_step", d.current_step);
        text("temperature", d.temperature.toFixed(1));
        text("powered_on", d.powered_on ? "yes" : "no");
        text("water_flow", d.water_flow);
        text("cups_since_filled", d.cups_since_filled);
        text("cups_since_empty", d.cups_since_empty);
        flag("water_ok", d.water_ok, "ok", "empty");
        flag("grounds_ok", d.grounds_ok, "ok", "full");
      } catch (e) {}
    };
  }
  connect();
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}
