// Package templates renders the dashboard page shell. Table rows and
// counters arrive afterwards over the datastar SSE stream.
package templates

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

const datastarScript = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.5/bundles/datastar.js"

type pageData struct {
	Title          string
	DatastarScript string
}

var dashboardPage = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<script type="module" src="{{.DatastarScript}}"></script>
<style>
body { font-family: system-ui, sans-serif; margin: 2rem; color: #1f2933; }
.stats { display: grid; grid-template-columns: repeat(5, 1fr); gap: 1rem; margin: 1rem 0; }
.stat { background: #f5f7fa; border-radius: 8px; padding: 1rem; }
.stat strong { display: block; font-size: 1.5rem; }
.error-banner { background: #fde8e8; color: #9b1c1c; padding: .75rem 1rem; border-radius: 6px; }
.modern-table { width: 100%; border-collapse: collapse; }
.modern-table th, .modern-table td { padding: .5rem; border-bottom: 1px solid #e4e7eb; text-align: left; }
.needs-attention { background: #fffbea; }
.badge { font-size: .75rem; background: #e4e7eb; border-radius: 4px; padding: 0 .35rem; }
</style>
</head>
<body data-signals="{isRefreshing: false, isLoading: false, phase: 'IDLE', lastOutcome: '', error: '', lastRefreshedAt: '', stats: {totalProducts: 0, potentialBestsellers: 0, improvingRankings: 0, priceRecommendations: 0, avgBestsellerProbability: 0}}"
      data-on-load="@get('/sse/predictions')">
<header>
<h1>{{.Title}}</h1>
<p>Last refreshed: <span data-text="$lastRefreshedAt || 'never'"></span></p>
<button id="refresh-button" data-on-click="@post('/sse/refresh')" data-attr-disabled="$isRefreshing">
<span data-show="!$isRefreshing">Refresh predictions</span>
<span data-show="$isRefreshing">Refreshing…</span>
</button>
</header>

<div class="error-banner" data-show="$error != ''">
<span data-text="$error"></span>
<button data-on-click="@post('/sse/reload')">Retry</button>
</div>

<section class="stats">
<div class="stat"><strong data-text="$stats.totalProducts">0</strong>Products</div>
<div class="stat"><strong data-text="$stats.potentialBestsellers">0</strong>Potential bestsellers</div>
<div class="stat"><strong data-text="$stats.improvingRankings">0</strong>Improving rankings</div>
<div class="stat"><strong data-text="$stats.priceRecommendations">0</strong>Price actions</div>
<div class="stat"><strong data-text="$stats.avgBestsellerProbability.toFixed(1) + '%'">0%</strong>Avg. bestseller probability</div>
</section>

<main>
<div id="predictions-content"><p class="empty-state">Loading predictions…</p></div>
</main>
</body>
</html>
`))

// Dashboard is the analyst prediction page.
func Dashboard() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return dashboardPage.Execute(w, pageData{
			Title:          "Predictive Analytics",
			DatastarScript: datastarScript,
		})
	})
}
