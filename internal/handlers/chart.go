package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	applog "spendlog/internal/log"
	"spendlog/internal/models"
)

// ChartCategoryItem is one legend row on the chart page.
type ChartCategoryItem struct {
	Category   string
	Total      float64
	Count      int
	Percentage float64
	Style      CategoryStyle
}

// ChartViewModel is the data passed to the chart page template.
type ChartViewModel struct {
	Total      float64
	Categories []ChartCategoryItem
}

// ExpenseChart renders the category breakdown page. The pie image itself is
// served by ChartImage.
func (h *Handlers) ExpenseChart(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)

	totals, err := h.db.CategoryTotals(user.ID)
	if err != nil {
		logger.Error("failed to aggregate categories", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var total float64
	for _, ct := range totals {
		total += ct.Total
	}

	items := make([]ChartCategoryItem, 0, len(totals))
	for _, ct := range totals {
		percentage := 0.0
		if total > 0 {
			percentage = ct.Total / total * 100
		}
		items = append(items, ChartCategoryItem{
			Category:   categoryDisplayName(ct.Category),
			Total:      ct.Total,
			Count:      ct.Count,
			Percentage: percentage,
			Style:      getCategoryStyle(ct.Category),
		})
	}

	h.render(w, r, "chart.html", ChartViewModel{Total: total, Categories: items})
}

// ChartImage renders the session user's category pie chart as a PNG and
// streams it directly. Rendering in memory per request means concurrent
// users can never clobber each other's chart.
func (h *Handlers) ChartImage(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)

	totals, err := h.db.CategoryTotals(user.ID)
	if err != nil {
		logger.Error("failed to aggregate categories", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	hasPositive := false
	for _, ct := range totals {
		if ct.Total > 0 {
			hasPositive = true
			break
		}
	}
	if !hasPositive {
		// Nothing a pie can show; the chart page renders its empty state.
		http.NotFound(w, r)
		return
	}

	var buf bytes.Buffer
	if err := renderPie(totals, &buf); err != nil {
		logger.Error("failed to render chart", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// renderPie draws a pie chart of the given category totals, labelling each
// slice with its category name and percentage of the overall total.
func renderPie(totals []models.CategoryTotal, buf *bytes.Buffer) error {
	var total float64
	for _, ct := range totals {
		total += ct.Total
	}

	values := make([]chart.Value, 0, len(totals))
	for _, ct := range totals {
		if ct.Total <= 0 {
			continue
		}
		percentage := ct.Total / total * 100
		style := getCategoryStyle(ct.Category)
		values = append(values, chart.Value{
			Value: ct.Total,
			Label: fmt.Sprintf("%s %.1f%%", categoryDisplayName(ct.Category), percentage),
			Style: chart.Style{
				FillColor: drawing.ColorFromHex(strings.TrimPrefix(style.Color, "#")),
			},
		})
	}

	pie := chart.PieChart{
		Width:  560,
		Height: 560,
		Values: values,
	}
	return pie.Render(chart.PNG, buf)
}
