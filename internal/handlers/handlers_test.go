package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"spendlog/internal/models"
	"spendlog/internal/storage"
	"spendlog/web"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// HandlersTestSuite drives the handlers through a router wired like the
// real server's.
type HandlersTestSuite struct {
	suite.Suite
	db  *storage.DB
	mux *http.ServeMux
}

func (suite *HandlersTestSuite) SetupTest() {
	db, err := storage.NewDB(":memory:")
	require.NoError(suite.T(), err, "failed to create test database")
	suite.db = db

	h := NewHandlers(db, web.TemplatesFS, false)

	mux := http.NewServeMux()
	protected := func(fn http.HandlerFunc) http.Handler {
		return h.AuthMiddleware(fn)
	}
	mux.HandleFunc("GET /register", h.RegisterForm)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("GET /login", h.LoginForm)
	mux.HandleFunc("POST /login", h.Login)
	mux.Handle("GET /{$}", protected(h.Index))
	mux.Handle("POST /logout", protected(h.Logout))
	mux.Handle("GET /add_expense", protected(h.AddExpenseForm))
	mux.Handle("POST /add_expense", protected(h.AddExpense))
	mux.Handle("GET /view_expenses", protected(h.ViewExpenses))
	mux.Handle("GET /expense_chart", protected(h.ExpenseChart))
	mux.Handle("GET /expense_chart.png", protected(h.ChartImage))
	suite.mux = mux
}

func (suite *HandlersTestSuite) TearDownTest() {
	if suite.db != nil {
		suite.db.Close()
	}
}

// do performs a request carrying the given cookies and returns the recorder.
func (suite *HandlersTestSuite) do(method, path string, form url.Values, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	suite.mux.ServeHTTP(w, req)
	return w
}

func (suite *HandlersTestSuite) register(username, password string) *httptest.ResponseRecorder {
	return suite.do(http.MethodPost, "/register", url.Values{
		"username": {username},
		"password": {password},
	}, nil)
}

// login registers nothing; it just submits credentials and returns the
// session cookie on success.
func (suite *HandlersTestSuite) login(username, password string) (*httptest.ResponseRecorder, *http.Cookie) {
	w := suite.do(http.MethodPost, "/login", url.Values{
		"username": {username},
		"password": {password},
	}, nil)
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value != "" {
			return w, c
		}
	}
	return w, nil
}

func (suite *HandlersTestSuite) signUpAndLogin(username, password string) *http.Cookie {
	w := suite.register(username, password)
	require.Equal(suite.T(), http.StatusFound, w.Code)
	_, session := suite.login(username, password)
	require.NotNil(suite.T(), session, "expected a session cookie after login")
	return session
}

func flashCookie(w *httptest.ResponseRecorder) string {
	for _, c := range w.Result().Cookies() {
		if c.Name == FlashCookieName && c.MaxAge >= 0 {
			value, _ := url.QueryUnescape(c.Value)
			return value
		}
	}
	return ""
}

func (suite *HandlersTestSuite) TestRegisterAndLogin() {
	w := suite.register("alice", "hunter2")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/login", w.Header().Get("Location"))
	assert.Contains(suite.T(), flashCookie(w), "Registration successful")

	_, session := suite.login("alice", "hunter2")
	require.NotNil(suite.T(), session)

	user, err := suite.db.ValidateSession(session.Value)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "alice", user.Username)
}

func (suite *HandlersTestSuite) TestRegisterDuplicateUsername() {
	suite.register("alice", "first-password")

	w := suite.register("alice", "second-password")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/register", w.Header().Get("Location"))
	assert.Contains(suite.T(), flashCookie(w), "Username already exists")

	// The first account remains valid and can log in
	_, session := suite.login("alice", "first-password")
	assert.NotNil(suite.T(), session, "original account must still work")
}

func (suite *HandlersTestSuite) TestLoginWrongPassword() {
	suite.register("alice", "hunter2")

	w, session := suite.login("alice", "wrong")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/login", w.Header().Get("Location"))
	assert.Nil(suite.T(), session, "no session may be created for a wrong password")
	assert.Contains(suite.T(), flashCookie(w), "Invalid credentials")
}

func (suite *HandlersTestSuite) TestLoginUnknownUserSameMessage() {
	suite.register("alice", "hunter2")

	wrongPass, _ := suite.login("alice", "wrong")
	unknownUser, _ := suite.login("nobody", "whatever")

	// Identical flash either way: login must not reveal whether the
	// username exists.
	assert.Equal(suite.T(), flashCookie(wrongPass), flashCookie(unknownUser))
}

func (suite *HandlersTestSuite) TestLandingPageShowsUsername() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodGet, "/", nil, []*http.Cookie{session})
	assert.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), "Welcome, alice!")
}

func (suite *HandlersTestSuite) TestLogoutEndsSession() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodPost, "/logout", nil, []*http.Cookie{session})
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/login", w.Header().Get("Location"))

	_, err := suite.db.ValidateSession(session.Value)
	assert.Error(suite.T(), err, "session row should be deleted")

	// The old cookie no longer grants access
	w = suite.do(http.MethodGet, "/", nil, []*http.Cookie{session})
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/login", w.Header().Get("Location"))
}

func (suite *HandlersTestSuite) addExpense(session *http.Cookie, description, category, amount, date, timeOfDay string) *httptest.ResponseRecorder {
	return suite.do(http.MethodPost, "/add_expense", url.Values{
		"description": {description},
		"category":    {category},
		"amount":      {amount},
		"date":        {date},
		"time":        {timeOfDay},
	}, []*http.Cookie{session})
}

func (suite *HandlersTestSuite) TestAddExpenseValidAmount() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.addExpense(session, "Groceries", "food", "42.50", "2026-08-28", "10:00")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/view_expenses", w.Header().Get("Location"))

	user, err := suite.db.GetUserByUsername("alice")
	require.NoError(suite.T(), err)
	expenses, err := suite.db.ListExpenses(user.ID)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), expenses, 1)
	assert.Equal(suite.T(), 42.50, expenses[0].Amount)
}

func (suite *HandlersTestSuite) TestAddExpenseNonNumericAmount() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.addExpense(session, "Groceries", "food", "abc", "2026-08-28", "10:00")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/add_expense", w.Header().Get("Location"), "invalid input re-prompts")
	assert.Contains(suite.T(), flashCookie(w), "valid number")

	user, err := suite.db.GetUserByUsername("alice")
	require.NoError(suite.T(), err)
	expenses, err := suite.db.ListExpenses(user.ID)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), expenses, "nothing may be inserted for a non-numeric amount")
}

func (suite *HandlersTestSuite) TestAddExpenseNegativeAmount() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.addExpense(session, "Refund", "food", "-5.00", "2026-08-28", "10:00")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/add_expense", w.Header().Get("Location"), "negative amount re-prompts")
	assert.Contains(suite.T(), flashCookie(w), "not be negative")

	user, err := suite.db.GetUserByUsername("alice")
	require.NoError(suite.T(), err)
	expenses, err := suite.db.ListExpenses(user.ID)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), expenses, "no row may be inserted for a negative amount")
}

func (suite *HandlersTestSuite) TestAddExpenseMissingField() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.addExpense(session, "", "food", "10.00", "2026-08-28", "10:00")
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/add_expense", w.Header().Get("Location"))
	assert.Contains(suite.T(), flashCookie(w), "fill in all fields")

	user, err := suite.db.GetUserByUsername("alice")
	require.NoError(suite.T(), err)
	expenses, err := suite.db.ListExpenses(user.ID)
	require.NoError(suite.T(), err)
	assert.Empty(suite.T(), expenses)
}

func (suite *HandlersTestSuite) TestViewExpensesScopedToSessionUser() {
	alice := suite.signUpAndLogin("alice", "hunter2")
	bob := suite.signUpAndLogin("bob", "hunter2")

	suite.addExpense(alice, "Groceries", "food", "30.00", "2026-08-28", "10:00")
	suite.addExpense(alice, "Bus ticket", "transport", "2.50", "2026-08-28", "11:00")
	suite.addExpense(bob, "Cinema", "entertainment", "12.00", "2026-08-28", "21:00")

	w := suite.do(http.MethodGet, "/view_expenses", nil, []*http.Cookie{alice})
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(suite.T(), body, "Groceries")
	assert.Contains(suite.T(), body, "Bus ticket")
	assert.NotContains(suite.T(), body, "Cinema", "another user's expenses must not appear")
	assert.Contains(suite.T(), body, "32.50", "total equals the sum of the user's rows")
}

func (suite *HandlersTestSuite) TestViewExpensesEmpty() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodGet, "/view_expenses", nil, []*http.Cookie{session})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), "No expenses yet")
}

func (suite *HandlersTestSuite) TestFlashShownExactlyOnce() {
	session := suite.signUpAndLogin("alice", "hunter2")
	suite.addExpense(session, "Groceries", "food", "30.00", "2026-08-28", "10:00")

	flash := &http.Cookie{Name: FlashCookieName, Value: url.QueryEscape("success|Expense added successfully!")}

	w := suite.do(http.MethodGet, "/view_expenses", nil, []*http.Cookie{session, flash})
	assert.Contains(suite.T(), w.Body.String(), "Expense added successfully!")

	// The render cleared the cookie, so a request without it shows nothing
	cleared := false
	for _, c := range w.Result().Cookies() {
		if c.Name == FlashCookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(suite.T(), cleared, "flash cookie should be cleared on render")

	w = suite.do(http.MethodGet, "/view_expenses", nil, []*http.Cookie{session})
	assert.NotContains(suite.T(), w.Body.String(), "Expense added successfully!")
}

func (suite *HandlersTestSuite) TestChartPageLegend() {
	session := suite.signUpAndLogin("alice", "hunter2")
	suite.addExpense(session, "Groceries", "food", "30.00", "2026-08-28", "10:00")
	suite.addExpense(session, "Bus ticket", "transport", "10.00", "2026-08-28", "11:00")

	w := suite.do(http.MethodGet, "/expense_chart", nil, []*http.Cookie{session})
	require.Equal(suite.T(), http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(suite.T(), body, "expense_chart.png")
	assert.Contains(suite.T(), body, "Food")
	assert.Contains(suite.T(), body, "Transport")
	assert.Contains(suite.T(), body, "75.0%")
	assert.Contains(suite.T(), body, "25.0%")
}

func (suite *HandlersTestSuite) TestChartPageEmptyState() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodGet, "/expense_chart", nil, []*http.Cookie{session})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Contains(suite.T(), w.Body.String(), "Nothing to chart yet")
	assert.NotContains(suite.T(), w.Body.String(), "expense_chart.png")
}

func (suite *HandlersTestSuite) TestChartImage() {
	session := suite.signUpAndLogin("alice", "hunter2")
	suite.addExpense(session, "Groceries", "food", "30.00", "2026-08-28", "10:00")

	w := suite.do(http.MethodGet, "/expense_chart.png", nil, []*http.Cookie{session})
	require.Equal(suite.T(), http.StatusOK, w.Code)
	assert.Equal(suite.T(), "image/png", w.Header().Get("Content-Type"))
	// PNG magic bytes
	assert.True(suite.T(), strings.HasPrefix(w.Body.String(), "\x89PNG"), "response should be a PNG image")
}

func (suite *HandlersTestSuite) TestChartImageNoExpenses() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodGet, "/expense_chart.png", nil, []*http.Cookie{session})
	assert.Equal(suite.T(), http.StatusNotFound, w.Code)
}

func (suite *HandlersTestSuite) TestLoginFormRedirectsWhenAuthenticated() {
	session := suite.signUpAndLogin("alice", "hunter2")

	w := suite.do(http.MethodGet, "/login", nil, []*http.Cookie{session})
	assert.Equal(suite.T(), http.StatusFound, w.Code)
	assert.Equal(suite.T(), "/", w.Header().Get("Location"))
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}

func TestGetCategoryStyle(t *testing.T) {
	assert.Equal(t, "#60a5fa", getCategoryStyle("food").Color)
	assert.Equal(t, "#60a5fa", getCategoryStyle("FOOD").Color, "lookup is case-insensitive")
	assert.Equal(t, "#94a3b8", getCategoryStyle("unknown").Color, "unknown categories fall back to the default style")
}

func TestCategoryDisplayName(t *testing.T) {
	assert.Equal(t, "Food", categoryDisplayName("food"))
	assert.Equal(t, "weird-cat", categoryDisplayName("weird-cat"))
}

func TestRenderPieSkipsNonPositive(t *testing.T) {
	totals := []models.CategoryTotal{
		{Category: "food", Total: 30, Count: 2},
		{Category: "refunds", Total: 0, Count: 1},
	}

	var buf bytes.Buffer
	err := renderPie(totals, &buf)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(buf.String(), "\x89PNG"))
}
