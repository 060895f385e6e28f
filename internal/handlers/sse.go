package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/starfederation/datastar-go/datastar"

	"prediction-dashboard/internal/models"
	"prediction-dashboard/internal/services"
)

const maxTableRows = 100

var predictionTableTemplate = template.Must(template.New("predictionTable").Funcs(template.FuncMap{
	"probability": services.FormatProbability,
	"percentage":  services.FormatPercentage,
	"price":       services.FormatPrice,
	"timestamp":   services.FormatTimestamp,
	"attention":   services.NeedsAttention,
	"summary":     services.Summary,
}).Parse(`
<div id="predictions-content">
{{if not .Rows}}<p class="empty-state">No predictions available yet.</p>{{else}}
<table class="modern-table">
<thead><tr><th>Product</th><th>Bestseller</th><th>Ranking</th><th>Price</th><th>Recommendation</th><th>Updated</th></tr></thead>
<tbody>
{{range .Rows}}<tr{{if attention .}} class="needs-attention"{{end}}>
<td><strong>{{.ProductName}}</strong><br><small>{{.ProductID}}</small></td>
<td>{{with .Bestseller}}{{probability .BestsellerProbability}} <span class="badge">{{.PotentialLevel}}</span>{{else}}-{{end}}</td>
<td>{{with .Ranking}}#{{.CurrentRank}} → #{{.PredictedRank}} <span class="badge">{{.PredictedTrend}}</span>{{else}}-{{end}}</td>
<td>{{with .Price}}{{price .CurrentPrice}} → {{price .RecommendedPrice}} ({{percentage .PriceChangePercentage}}){{else}}-{{end}}</td>
<td>{{summary .}}</td>
<td>{{timestamp .LastUpdated}}</td>
</tr>{{end}}
</tbody>
</table>
{{if .Truncated}}<p class="table-note">Showing {{len .Rows}} of {{.Total}} products.</p>{{end}}
{{end}}
</div>`))

type tableData struct {
	Rows      []models.CombinedPrediction
	Total     int
	Truncated bool
}

// dashboardSignals is the client-side state datastar keeps in sync.
type dashboardSignals struct {
	IsRefreshing    bool                   `json:"isRefreshing"`
	IsLoading       bool                   `json:"isLoading"`
	Phase           services.Phase         `json:"phase"`
	LastOutcome     services.Phase         `json:"lastOutcome"`
	Error           string                 `json:"error"`
	LastRefreshedAt string                 `json:"lastRefreshedAt"`
	Stats           models.PredictionStats `json:"stats"`
}

func newDashboardSignals(v services.View) dashboardSignals {
	return dashboardSignals{
		IsRefreshing:    v.IsRefreshing,
		IsLoading:       v.IsLoading,
		Phase:           v.Phase,
		LastOutcome:     v.LastOutcome,
		Error:           v.Error,
		LastRefreshedAt: services.FormatTimestamp(v.LastRefreshedAt),
		Stats:           v.Stats,
	}
}

type SSEHandlers struct {
	predictions PredictionService
	logger      *slog.Logger
}

func NewSSEHandlers(predictions PredictionService, logger *slog.Logger) *SSEHandlers {
	return &SSEHandlers{
		predictions: predictions,
		logger:      logger,
	}
}

func (h *SSEHandlers) renderTable(predictions []models.CombinedPrediction) (string, error) {
	data := tableData{Rows: predictions, Total: len(predictions)}
	if len(predictions) > maxTableRows {
		data.Rows = predictions[:maxTableRows]
		data.Truncated = true
	}

	var buf strings.Builder
	err := predictionTableTemplate.Execute(&buf, data)
	return buf.String(), err
}

// HandleStream pushes the table and signals on connect and again after
// every coordinator change until the client goes away.
func (h *SSEHandlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	updates, cancel := h.predictions.Subscribe()
	defer cancel()

	sse := datastar.NewSSE(w, r)

	var lastRendered []models.CombinedPrediction
	for {
		select {
		case <-r.Context().Done():
			return
		case v, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(sse, v, !sameRows(lastRendered, v.Predictions)); err != nil {
				h.logger.Debug("sse stream closed", "error", err)
				return
			}
			lastRendered = v.Predictions
		}
	}
}

// HandleRefresh is the datastar action behind the refresh button.
func (h *SSEHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.predictions.RequestRefresh(r.Context()); err != nil {
		h.logger.Warn("refresh request failed", "error", err)
	}

	sse := datastar.NewSSE(w, r)
	if err := h.send(sse, h.predictions.View(), false); err != nil {
		h.logger.Error("send refresh signals", "error", err)
	}
}

// HandleReload is the datastar action behind the retry button.
func (h *SSEHandlers) HandleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.predictions.ReloadCache(r.Context()); err != nil {
		h.logger.Warn("reload request failed", "error", err)
	}

	sse := datastar.NewSSE(w, r)
	if err := h.send(sse, h.predictions.View(), true); err != nil {
		h.logger.Error("send reload patch", "error", err)
	}
}

func (h *SSEHandlers) send(sse *datastar.ServerSentEventGenerator, v services.View, withTable bool) error {
	if withTable {
		html, err := h.renderTable(v.Predictions)
		if err != nil {
			h.logger.Error("render prediction table", "error", err)
			return err
		}
		if err := sse.PatchElements(html); err != nil {
			return err
		}
	}

	signals, err := json.Marshal(newDashboardSignals(v))
	if err != nil {
		h.logger.Error("marshal dashboard signals", "error", err)
		return err
	}
	return sse.PatchSignals(signals)
}

// sameRows reports whether two views carry the same prediction slice.
// Snapshots replace the slice, so identity is enough.
func sameRows(a, b []models.CombinedPrediction) bool {
	if a == nil || len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
