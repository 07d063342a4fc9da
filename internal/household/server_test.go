package household

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/household-expenses/internal/expense"
	"github.com/zombor/household-expenses/internal/extraction"
	"github.com/zombor/household-expenses/internal/identity"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		sessions    *mockSessions
		recognizer  *mockRecognizer
		extractor   *mockExtractor
		server      *Server
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		sessions = newMockSessions()
		auth := &mockAuth{users: map[string]*identity.UserData{
			"alice-token": {ID: "alice", DisplayName: "Alice", Email: "alice@example.com"},
		}}
		recognizer = &mockRecognizer{text: "TOTAL 9.99"}
		extractor = &mockExtractor{suggestion: &extraction.SuggestedExpenseInformation{
			Total:             "9.99",
			EstimatedCategory: expense.CategoryGroceries,
			Date:              "Mar 1 2025",
		}}
		service := NewServiceWithDeps(db, sessions, auth, recognizer, extractor, newMockStorage(), &mockNotifier{},
			&mockIDGenerator{id: "test-id-123"},
			&mockTimeSource{now: time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)},
		)
		server = NewServerWithMux(service, http.NewServeMux())

		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.Handler().ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	do := func(method, path string, body io.Reader, token string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	jsonBody := func(v any) io.Reader {
		data, err := json.Marshal(v)
		Expect(err).NotTo(HaveOccurred())
		return bytes.NewReader(data)
	}

	decode := func(resp *http.Response, v any) {
		defer resp.Body.Close()
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	Describe("authentication", func() {
		It("rejects requests without a bearer token", func() {
			resp := do("GET", "/api/households", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Bearer"))
		})

		It("rejects invalid tokens", func() {
			resp := do("GET", "/api/households", nil, "forged")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})

		It("sets CORS headers", func() {
			resp := do("GET", "/healthz", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("answers preflight requests", func() {
			resp := do("OPTIONS", "/api/households", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		})
	})

	Describe("handleSignIn", func() {
		It("returns the signed-in user", func() {
			resp := do("POST", "/api/auth/signin", jsonBody(map[string]string{"type": "google_id_token", "token": "alice-token"}), "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var user identity.UserData
			decode(resp, &user)
			Expect(user.ID).To(Equal("alice"))
			Expect(sessions.sessions).To(HaveKey("alice"))
		})

		It("returns unauthorized for an unsupported credential type", func() {
			resp := do("POST", "/api/auth/signin", jsonBody(map[string]string{"type": "password", "token": "alice-token"}), "")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(ContainSubstring("invalid credential type"))
		})

		It("returns bad request for malformed JSON", func() {
			resp := do("POST", "/api/auth/signin", bytes.NewReader([]byte("{")), "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetSession", func() {
		It("returns unauthorized when the user never signed in", func() {
			resp := do("GET", "/api/session", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("handleCreateHousehold", func() {
		It("creates the household", func() {
			resp := do("POST", "/api/households", jsonBody(map[string]string{"name": "Home"}), "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var h HouseholdDetails
			decode(resp, &h)
			Expect(h.ID).To(Equal("test-id-123"))
			Expect(h.Members).To(Equal([]string{"alice"}))
		})

		It("returns bad request for a blank name", func() {
			resp := do("POST", "/api/households", jsonBody(map[string]string{"name": " "}), "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleGetHousehold", func() {
		It("returns not found for households the user is not in", func() {
			db.households["h1"] = &HouseholdDetails{ID: "h1", Members: []string{"bob"}}
			resp := do("GET", "/api/households/h1", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleListHouseholds", func() {
		It("returns an empty array for a new user", func() {
			resp := do("GET", "/api/households", nil, "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var households []UserHousehold
			decode(resp, &households)
			Expect(households).NotTo(BeNil())
			Expect(households).To(BeEmpty())
		})
	})

	Describe("handleAcceptInvite", func() {
		It("returns conflict for an answered invite", func() {
			db.invites["alice"] = map[string]*HouseholdInvite{"inv1": {ID: "inv1", Status: InviteAccepted}}
			resp := do("POST", "/api/invites/inv1/accept", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("returns not found for unknown invites", func() {
			resp := do("POST", "/api/invites/missing/accept", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleScanReceipt", func() {
		upload := func(filename string, data []byte) *http.Response {
			body := &bytes.Buffer{}
			writer := multipart.NewWriter(body)
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write(data)
			Expect(err).NotTo(HaveOccurred())
			Expect(writer.Close()).To(Succeed())

			req, err := http.NewRequest("POST", ghttpServer.URL()+"/api/receipts/scan", body)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", writer.FormDataContentType())
			req.Header.Set("Authorization", "Bearer alice-token")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("returns the suggestion", func() {
			resp := upload("receipt.jpg", []byte("image"))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var suggestion extraction.SuggestedExpenseInformation
			decode(resp, &suggestion)
			Expect(suggestion.Total).To(Equal("9.99"))
			Expect(suggestion.EstimatedCategory).To(Equal(expense.CategoryGroceries))
		})

		It("returns bad gateway when the AI gives no usable answer", func() {
			extractor.err = extraction.ErrNullResponseBody
			resp := upload("receipt.jpg", []byte("image"))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})

		It("returns bad request when no text is found", func() {
			recognizer.text = ""
			resp := upload("receipt.jpg", []byte("image"))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("hides internal failures", func() {
			recognizer.err = errors.New("connection refused to 10.0.0.5")
			resp := upload("receipt.jpg", []byte("image"))
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(Equal("Internal server error"))
		})

		It("returns bad request without a file", func() {
			resp := do("POST", "/api/receipts/scan", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleReviewExpense", func() {
		It("returns the consolidated information", func() {
			resp := do("POST", "/api/expenses/review", jsonBody(map[string]string{
				"category": "Groceries",
				"date":     "Mar 1 2025",
				"total":    "9.99",
				"note":     " milk ",
			}), "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var info expense.ConsolidatedExpenseInformation
			decode(resp, &info)
			Expect(info.Category).To(Equal(expense.CategoryGroceries))
			Expect(info.Total).To(Equal(9.99))
			Expect(info.Note).To(Equal("milk"))
		})

		It("returns bad request naming the failing section", func() {
			resp := do("POST", "/api/expenses/review", jsonBody(map[string]string{
				"category": "Groceries",
				"date":     "2025-03-01",
				"total":    "9.99",
			}), "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(ContainSubstring("date"))
		})

		It("returns bad request for a total that is not a finite number", func() {
			resp := do("POST", "/api/expenses/review", jsonBody(map[string]string{
				"category": "Groceries",
				"date":     "Mar 1 2025",
				"total":    "NaN",
			}), "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			var body map[string]string
			decode(resp, &body)
			Expect(body["error"]).To(ContainSubstring("total"))
		})
	})

	Describe("handleAddExpense", func() {
		BeforeEach(func() {
			db.households["h1"] = &HouseholdDetails{ID: "h1", Members: []string{"alice", "bob"}}
		})

		It("stores the reviewed expense", func() {
			resp := do("POST", "/api/households/h1/expenses", jsonBody(map[string]any{
				"category":    "Restaurants",
				"date":        "Mar 2 2025",
				"total":       "30",
				"distributed": map[string]float64{"alice": 15, "bob": 15},
			}), "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var e expense.Expense
			decode(resp, &e)
			Expect(e.Category).To(Equal(expense.CategoryRestaurants))
			Expect(e.Distributed).To(HaveKeyWithValue("bob", 15.0))
			Expect(db.expenses["h1"]).To(HaveKey("test-id-123"))
		})

		It("returns bad request for an invalid total", func() {
			resp := do("POST", "/api/households/h1/expenses", jsonBody(map[string]any{
				"category": "Restaurants",
				"date":     "Mar 2 2025",
				"total":    "lots",
			}), "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(db.expenses).To(BeEmpty())
		})
	})

	Describe("handleDeleteExpense", func() {
		It("returns not found for unknown expenses", func() {
			db.households["h1"] = &HouseholdDetails{ID: "h1", Members: []string{"alice"}}
			resp := do("DELETE", "/api/households/h1/expenses/nope", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleBreakdown", func() {
		BeforeEach(func() {
			db.households["h1"] = &HouseholdDetails{ID: "h1", Members: []string{"alice"}}
			db.expenses["h1"] = map[string]*expense.Expense{
				"e1": {ID: "e1", Category: expense.CategoryHome, Total: 20, UserID: "alice", Date: time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)},
			}
		})

		It("summarises the requested month", func() {
			resp := do("GET", "/api/households/h1/breakdown?month=2025-02", nil, "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var b expense.MonthlyBreakdown
			decode(resp, &b)
			Expect(b.Total).To(Equal(20.0))
			Expect(b.Categories).To(HaveLen(1))
		})

		It("defaults to the month on the service clock", func() {
			db.expenses["h1"]["e2"] = &expense.Expense{ID: "e2", Category: expense.CategoryGroceries, Total: 7.5, UserID: "alice", Date: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)}

			resp := do("GET", "/api/households/h1/breakdown", nil, "alice-token")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var b expense.MonthlyBreakdown
			decode(resp, &b)
			Expect(b.Year).To(Equal(2025))
			Expect(b.Month).To(Equal(time.March))
			Expect(b.Total).To(Equal(7.5))
		})

		It("rejects malformed months", func() {
			resp := do("GET", "/api/households/h1/breakdown?month=February", nil, "alice-token")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})

var _ = DescribeTable("statusFor",
	func(err error, expected int) {
		Expect(statusFor(err)).To(Equal(expected))
	},
	Entry("review errors", &expense.ReviewError{Section: expense.SectionTotal, Err: expense.ErrInvalidTotal}, http.StatusBadRequest),
	Entry("invalid credential", identity.ErrInvalidCredential, http.StatusUnauthorized),
	Entry("wrapped not found", errors.Join(errors.New("getting household"), ErrHouseholdNotFound), http.StatusNotFound),
	Entry("invite not pending", ErrInviteNotPending, http.StatusConflict),
	Entry("extraction not found", &extraction.NotFoundError{Reason: "no fenced json"}, http.StatusBadGateway),
	Entry("API errors", &extraction.APIError{StatusCode: 500}, http.StatusBadGateway),
	Entry("anything else", errors.New("boom"), http.StatusInternalServerError),
)
