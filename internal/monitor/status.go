package monitor

import (
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"time"
)

// StatusDeps wires live engine readings into the status page. Each
// func field is read on every request, never cached.
type StatusDeps struct {
	Version      string
	ShardIndex   int
	ShardTotal   int
	BaseCurrency string

	PriceCount    func() int
	FxCount       func() int
	PositionCount func() int
	Outstanding   func() int64
	MailboxDepth  func() int64
	DirtyBacklog  func() int
}

type statusPayload struct {
	Version      string `json:"version"`
	Shard        string `json:"shard"`
	BaseCurrency string `json:"base_currency"`
	Uptime       string `json:"uptime"`

	PriceCacheSize    int   `json:"price_cache_size"`
	FxCacheSize       int   `json:"fx_cache_size"`
	PositionCacheSize int   `json:"position_cache_size"`
	OutstandingWork   int64 `json:"outstanding_work"`
	MailboxDepth      int64 `json:"mailbox_depth"`
	DirtyBacklog      int   `json:"dirty_backlog"`
}

var statusTemplate = template.Must(template.New("status").Parse(statusHTML))

func statusJSON(deps StatusDeps, started time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := statusPayload{
			Version:      deps.Version,
			Shard:        fmt.Sprintf("%d of %d", deps.ShardIndex, deps.ShardTotal),
			BaseCurrency: deps.BaseCurrency,
			Uptime:       time.Since(started).Round(time.Second).String(),

			PriceCacheSize:    deps.PriceCount(),
			FxCacheSize:       deps.FxCount(),
			PositionCacheSize: deps.PositionCount(),
			OutstandingWork:   deps.Outstanding(),
			MailboxDepth:      deps.MailboxDepth(),
			DirtyBacklog:      deps.DirtyBacklog(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	}
}

func statusPage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		statusTemplate.Execute(w, nil)
	}
}

const statusHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Valuation Engine</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: Arial, sans-serif; margin: 0; padding: 20px; background: #f5f5f5; }
        .container { max-width: 900px; margin: 0 auto; }
        .header { background: #333; color: white; padding: 20px; margin: -20px -20px 20px; }
        .cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(260px, 1fr)); gap: 20px; }
        .card { background: white; padding: 20px; border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .card h3 { margin-top: 0; color: #333; }
        .row { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #eee; }
        .row:last-child { border-bottom: none; }
        .value { font-weight: bold; color: #2196F3; }
        .status { display: inline-block; padding: 4px 8px; border-radius: 4px; font-size: 12px; }
        .status.healthy { background: #4CAF50; color: white; }
        .status.degraded { background: #FF9800; color: white; }
        .status.unhealthy { background: #F44336; color: white; }
    </style>
</head>
<body>
    <div class="header">
        <div class="container"><h1>Valuation Engine</h1></div>
    </div>
    <div class="container">
        <div class="cards">
            <div class="card"><h3>Engine</h3><div id="engine"></div></div>
            <div class="card"><h3>Caches</h3><div id="caches"></div></div>
            <div class="card"><h3>Flow</h3><div id="flow"></div></div>
            <div class="card"><h3>Health</h3><div id="health"></div></div>
        </div>
    </div>
    <script>
        function row(label, value) {
            return '<div class="row"><span>' + label + '</span><span class="value">' + value + '</span></div>';
        }

        function refresh() {
            fetch('/statusz')
                .then(r => r.json())
                .then(d => {
                    document.getElementById('engine').innerHTML =
                        row('Version', d.version) +
                        row('Shard', d.shard) +
                        row('Base currency', d.base_currency) +
                        row('Uptime', d.uptime);
                    document.getElementById('caches').innerHTML =
                        row('Prices', d.price_cache_size) +
                        row('FX rates', d.fx_cache_size) +
                        row('Positions', d.position_cache_size);
                    document.getElementById('flow').innerHTML =
                        row('Outstanding work', d.outstanding_work) +
                        row('Mailbox depth', d.mailbox_depth) +
                        row('Dirty backlog', d.dirty_backlog);
                });

            fetch('/healthz')
                .then(r => r.json())
                .then(d => {
                    document.getElementById('health').innerHTML = d.components.map(c =>
                        '<div class="row"><span>' + c.name + '</span>' +
                        '<span class="status ' + c.status + '">' + c.status + '</span></div>'
                    ).join('');
                });
        }

        refresh();
        setInterval(refresh, 2000);
    </script>
</body>
</html>
`
