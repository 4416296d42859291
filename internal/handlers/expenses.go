package handlers

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	applog "spendlog/internal/log"
	"spendlog/internal/models"
)

// CategoryDef defines the properties of a category.
type CategoryDef struct {
	ID    string
	Name  string
	Icon  string
	Color string
}

var categories = []CategoryDef{
	{"food", "Food", "🍽️", "#60a5fa"},
	{"transport", "Transport", "🚌", "#a78bfa"},
	{"entertainment", "Entertainment", "🎮", "#f472b6"},
	{"utilities", "Utilities", "💡", "#fbbf24"},
	{"housing", "Housing", "🏠", "#818cf8"},
	{"gifts", "Gifts", "🎁", "#fb7185"},
	{"other", "Other", "📦", "#94a3b8"},
}

// CategoryStyle defines the visual style for a category.
type CategoryStyle struct {
	Icon  string
	Color string
}

func getCategoryStyle(category string) CategoryStyle {
	catLower := strings.ToLower(category)
	for _, c := range categories {
		if c.ID == catLower {
			return CategoryStyle{Icon: c.Icon, Color: c.Color}
		}
	}
	return CategoryStyle{Icon: "📦", Color: "#94a3b8"}
}

func categoryDisplayName(category string) string {
	catLower := strings.ToLower(category)
	for _, c := range categories {
		if c.ID == catLower {
			return c.Name
		}
	}
	return category
}

// ExpenseItem represents an expense in the list view.
type ExpenseItem struct {
	models.Expense
	Style CategoryStyle
}

// ListViewModel is the data passed to the list view template.
type ListViewModel struct {
	Expenses []ExpenseItem
	Total    float64
}

// FormViewModel is the data passed to the add-expense form template.
type FormViewModel struct {
	Categories []CategoryDef
	Today      string
	Now        string
}

// AddExpenseForm renders the form to record a new expense.
func (h *Handlers) AddExpenseForm(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	h.render(w, r, "add_expense.html", FormViewModel{
		Categories: categories,
		Today:      now.Format("2006-01-02"),
		Now:        now.Format("15:04"),
	})
}

// AddExpense validates and stores a new expense for the session user.
// Invalid input re-prompts with a flash message and inserts nothing.
func (h *Handlers) AddExpense(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)

	if err := r.ParseForm(); err != nil {
		h.setFlash(w, "danger", "Invalid form submission.")
		http.Redirect(w, r, "/add_expense", http.StatusFound)
		return
	}

	description := strings.TrimSpace(r.FormValue("description"))
	category := strings.TrimSpace(r.FormValue("category"))
	amountStr := strings.TrimSpace(r.FormValue("amount"))
	date := strings.TrimSpace(r.FormValue("date"))
	timeOfDay := strings.TrimSpace(r.FormValue("time"))

	if description == "" || category == "" || amountStr == "" || date == "" || timeOfDay == "" {
		h.setFlash(w, "danger", "Please fill in all fields.")
		http.Redirect(w, r, "/add_expense", http.StatusFound)
		return
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		h.setFlash(w, "danger", "Amount should be a valid number.")
		http.Redirect(w, r, "/add_expense", http.StatusFound)
		return
	}
	if amount < 0 {
		h.setFlash(w, "danger", "Amount should not be negative.")
		http.Redirect(w, r, "/add_expense", http.StatusFound)
		return
	}

	if err := h.db.CreateExpense(user.ID, description, category, amount, date, timeOfDay); err != nil {
		logger.Error("failed to create expense", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("expense added",
		applog.FieldUserID, user.ID,
		applog.FieldCategory, category,
		applog.FieldAmount, amount,
	)
	h.setFlash(w, "success", "Expense added successfully!")
	http.Redirect(w, r, "/view_expenses", http.StatusFound)
}

// ViewExpenses lists the session user's expenses with a running total.
func (h *Handlers) ViewExpenses(w http.ResponseWriter, r *http.Request) {
	user := GetUserFromContext(r)
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentExpense)

	expenses, err := h.db.ListExpenses(user.ID)
	if err != nil {
		logger.Error("failed to list expenses", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	total, err := h.db.TotalAmount(user.ID)
	if err != nil {
		logger.Error("failed to total expenses", applog.FieldError, err, applog.FieldUserID, user.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	items := make([]ExpenseItem, 0, len(expenses))
	for _, e := range expenses {
		items = append(items, ExpenseItem{Expense: e, Style: getCategoryStyle(e.Category)})
	}

	h.render(w, r, "view_expenses.html", ListViewModel{Expenses: items, Total: total})
}
