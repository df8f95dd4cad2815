package api

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bucket-tracker/internal/logging"
	"github.com/bucket-tracker/internal/models"
	"github.com/bucket-tracker/internal/service"
	"github.com/bucket-tracker/internal/types"
)

// dashboardView is the data the dashboard template renders
type dashboardView struct {
	LastSync     string
	ValuesHidden bool
	Stats        models.PortfolioStats
	Cards        []bucketCard
	Rows         []holdingRow
	Buckets      []models.Bucket
}

// bucketCard is one bucket summary, including the synthetic unassigned one
type bucketCard struct {
	ID           string
	Name         string
	Philosophy   string
	Description  string
	GrowthTarget decimal.Decimal
	Stats        models.BucketStats
	Editable     bool
}

// holdingRow is one line of the holdings table
type holdingRow struct {
	models.Holding
	BucketKey  string
	BucketName string
	Invested   decimal.Decimal
	Current    decimal.Decimal
	PnL        decimal.Decimal
	PnLPercent decimal.Decimal
	Provenance string
}

var templateFuncs = template.FuncMap{
	"money": formatMoney,
	"pct": func(d decimal.Decimal) string {
		return d.StringFixed(2) + "%"
	},
	"qty": func(d decimal.Decimal) string {
		return d.String()
	},
	"trend": func(d decimal.Decimal) string {
		switch d.Sign() {
		case 1:
			return "positive"
		case -1:
			return "negative"
		default:
			return "neutral"
		}
	},
}

// handleDashboard handles GET /
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.portfolioService.Dashboard(r.Context())
	if err != nil {
		logServiceError(r, err)
		http.Error(w, "failed to load portfolio", http.StatusInternalServerError)
		return
	}

	// Render into a buffer so a template error does not leave a half page.
	var buf bytes.Buffer
	if err := s.dashboard.Execute(&buf, buildDashboardView(dash)); err != nil {
		logging.FromContext(r.Context()).WithError(err).Error("Failed to render dashboard")
		http.Error(w, "failed to render dashboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func buildDashboardView(dash *service.Dashboard) dashboardView {
	view := dashboardView{
		LastSync:     "Never",
		ValuesHidden: dash.ValuesHidden,
		Stats:        dash.Stats,
		Buckets:      dash.Buckets,
	}
	if dash.LastSync != nil {
		view.LastSync = dash.LastSync.Local().Format("02 Jan 2006 15:04")
	}

	byID := make(map[string]models.Bucket, len(dash.Buckets))
	for _, b := range dash.Buckets {
		if b.ID == types.UnassignedBucketID {
			continue
		}
		byID[b.ID] = b
	}

	for _, st := range dash.Stats.Buckets {
		card := bucketCard{
			ID:           st.ID,
			Name:         st.Name,
			GrowthTarget: st.GrowthTarget,
			Stats:        st,
		}
		if b, ok := byID[st.ID]; ok {
			card.Philosophy = b.Philosophy
			card.Description = b.Description
			card.Editable = true
		}
		view.Cards = append(view.Cards, card)
	}

	for _, h := range dash.Holdings {
		row := holdingRow{
			Holding:    h,
			BucketKey:  types.UnassignedBucketID,
			BucketName: "Unassigned",
			Invested:   h.Invested(),
			Current:    h.CurrentValue(),
		}
		if h.BucketID != nil {
			if b, ok := byID[*h.BucketID]; ok {
				row.BucketKey = b.ID
				row.BucketName = b.Name
			}
		}
		if h.PurchasedBy != nil {
			row.Provenance = string(*h.PurchasedBy)
		}
		row.PnL = row.Current.Sub(row.Invested)
		if !row.Invested.IsZero() {
			row.PnLPercent = row.PnL.Div(row.Invested).Mul(decimal.NewFromInt(100))
		}
		view.Rows = append(view.Rows, row)
	}

	return view
}

// formatMoney renders an amount as rupees with two decimals and thousands
// separators.
func formatMoney(d decimal.Decimal) string {
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if d.Sign() < 0 {
		b.WriteByte('-')
	}
	b.WriteString("₹")
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
