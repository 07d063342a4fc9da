package household

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/household-expenses/internal/expense"
)

var _ = Describe("BoltDB", func() {
	var (
		ctx    context.Context
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
		db.now = func() time.Time { return time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC) }
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SaveUserProfile", func() {
		When("the user is new", func() {
			It("creates the document with no households", func() {
				saved, err := db.SaveUserProfile(ctx, &User{ID: "alice", DisplayName: "Alice", Email: "alice@example.com"})
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Households).To(BeEmpty())
				Expect(saved.CreatedAt).To(Equal(db.now()))
			})
		})

		When("the user exists", func() {
			BeforeEach(func() {
				_, err := db.SaveUserProfile(ctx, &User{ID: "alice", DisplayName: "Alice", Email: "alice@example.com"})
				Expect(err).NotTo(HaveOccurred())
				Expect(db.SetNotificationToken(ctx, "alice", "device-1")).To(Succeed())
				_, err = db.AddHouseholdToUser(ctx, "alice", UserHousehold{ID: "h1", Name: "Home"})
				Expect(err).NotTo(HaveOccurred())
			})

			It("updates the profile and keeps households and token", func() {
				saved, err := db.SaveUserProfile(ctx, &User{ID: "alice", DisplayName: "Alice B", Email: "alice@example.com"})
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.DisplayName).To(Equal("Alice B"))
				Expect(saved.Households).To(Equal([]UserHousehold{{ID: "h1", Name: "Home"}}))
				Expect(saved.NotificationToken).To(Equal("device-1"))
			})
		})
	})

	Describe("GetUser", func() {
		It("returns ErrUserNotFound for unknown users", func() {
			_, err := db.GetUser(ctx, "ghost")
			Expect(err).To(MatchError(ErrUserNotFound))
		})

		It("round-trips the notification token", func() {
			_, err := db.SaveUserProfile(ctx, &User{ID: "alice"})
			Expect(err).NotTo(HaveOccurred())
			Expect(db.SetNotificationToken(ctx, "alice", "device-1")).To(Succeed())

			user, err := db.GetUser(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.NotificationToken).To(Equal("device-1"))
		})
	})

	Describe("FindUserByEmail", func() {
		BeforeEach(func() {
			_, err := db.SaveUserProfile(ctx, &User{ID: "bob", Email: "bob@example.com"})
			Expect(err).NotTo(HaveOccurred())
		})

		It("matches case-insensitively", func() {
			user, err := db.FindUserByEmail(ctx, "BOB@example.com")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.ID).To(Equal("bob"))
		})

		It("returns ErrUserNotFound when nobody matches", func() {
			_, err := db.FindUserByEmail(ctx, "carol@example.com")
			Expect(err).To(MatchError(ErrUserNotFound))
		})
	})

	Describe("AddHouseholdToUser", func() {
		var household UserHousehold

		BeforeEach(func() {
			household = UserHousehold{ID: "h1", Name: "Home"}
		})

		It("creates the user document when absent", func() {
			added, err := db.AddHouseholdToUser(ctx, "alice", household)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())

			user, err := db.GetUser(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Households).To(Equal([]UserHousehold{household}))
		})

		It("is idempotent", func() {
			_, err := db.AddHouseholdToUser(ctx, "alice", household)
			Expect(err).NotTo(HaveOccurred())

			added, err := db.AddHouseholdToUser(ctx, "alice", household)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeFalse())

			user, err := db.GetUser(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Households).To(HaveLen(1))
		})
	})

	Describe("RemoveHouseholdFromUser", func() {
		It("drops the reference", func() {
			_, err := db.AddHouseholdToUser(ctx, "alice", UserHousehold{ID: "h1"})
			Expect(err).NotTo(HaveOccurred())
			_, err = db.AddHouseholdToUser(ctx, "alice", UserHousehold{ID: "h2"})
			Expect(err).NotTo(HaveOccurred())

			Expect(db.RemoveHouseholdFromUser(ctx, "alice", "h1")).To(Succeed())

			user, err := db.GetUser(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(user.Households).To(Equal([]UserHousehold{{ID: "h2"}}))
		})

		It("ignores unknown users", func() {
			Expect(db.RemoveHouseholdFromUser(ctx, "ghost", "h1")).To(Succeed())
		})
	})

	Describe("households", func() {
		BeforeEach(func() {
			Expect(db.CreateHousehold(ctx, &HouseholdDetails{ID: "h1", Name: "Home", Members: []string{"alice"}})).To(Succeed())
		})

		It("returns ErrHouseholdNotFound for unknown households", func() {
			_, err := db.GetHousehold(ctx, "missing")
			Expect(err).To(MatchError(ErrHouseholdNotFound))
		})

		It("adds members once", func() {
			Expect(db.AddMember(ctx, "h1", "bob")).To(Succeed())
			Expect(db.AddMember(ctx, "h1", "bob")).To(Succeed())

			h, err := db.GetHousehold(ctx, "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.Members).To(Equal([]string{"alice", "bob"}))
		})

		When("members leave", func() {
			BeforeEach(func() {
				Expect(db.AddMember(ctx, "h1", "bob")).To(Succeed())
				Expect(db.SaveExpense(ctx, &expense.Expense{ID: "e1", HouseholdID: "h1", Total: 5})).To(Succeed())
			})

			It("reports the remaining members", func() {
				remaining, err := db.RemoveMember(ctx, "h1", "alice")
				Expect(err).NotTo(HaveOccurred())
				Expect(remaining).To(Equal(1))
			})

			It("deletes the household and its expenses with the last member", func() {
				_, err := db.RemoveMember(ctx, "h1", "alice")
				Expect(err).NotTo(HaveOccurred())
				remaining, err := db.RemoveMember(ctx, "h1", "bob")
				Expect(err).NotTo(HaveOccurred())
				Expect(remaining).To(Equal(0))

				_, err = db.GetHousehold(ctx, "h1")
				Expect(err).To(MatchError(ErrHouseholdNotFound))
				expenses, err := db.ListExpenses(ctx, "h1")
				Expect(err).NotTo(HaveOccurred())
				Expect(expenses).To(BeEmpty())
			})
		})

		It("deletes the household", func() {
			Expect(db.DeleteHousehold(ctx, "h1")).To(Succeed())
			_, err := db.GetHousehold(ctx, "h1")
			Expect(err).To(MatchError(ErrHouseholdNotFound))
		})
	})

	Describe("expenses", func() {
		BeforeEach(func() {
			Expect(db.CreateHousehold(ctx, &HouseholdDetails{ID: "h1", Members: []string{"alice"}})).To(Succeed())
		})

		It("stores expenses under their household", func() {
			e := &expense.Expense{
				ID:          "e1",
				HouseholdID: "h1",
				Category:    expense.CategoryGroceries,
				Total:       12.5,
				Date:        time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
				Distributed: map[string]float64{"alice": 12.5},
			}
			Expect(db.SaveExpense(ctx, e)).To(Succeed())

			expenses, err := db.ListExpenses(ctx, "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).To(HaveLen(1))
			Expect(expenses[0].Category).To(Equal(expense.CategoryGroceries))
			Expect(expenses[0].Distributed).To(HaveKeyWithValue("alice", 12.5))
		})

		It("refuses expenses for unknown households", func() {
			err := db.SaveExpense(ctx, &expense.Expense{ID: "e1", HouseholdID: "missing"})
			Expect(err).To(MatchError(ErrHouseholdNotFound))
		})

		It("returns an empty list for households without expenses", func() {
			expenses, err := db.ListExpenses(ctx, "h1")
			Expect(err).NotTo(HaveOccurred())
			Expect(expenses).NotTo(BeNil())
			Expect(expenses).To(BeEmpty())
		})

		It("deletes one expense", func() {
			Expect(db.SaveExpense(ctx, &expense.Expense{ID: "e1", HouseholdID: "h1"})).To(Succeed())
			Expect(db.DeleteExpense(ctx, "h1", "e1")).To(Succeed())
			Expect(db.DeleteExpense(ctx, "h1", "e1")).To(MatchError(ErrExpenseNotFound))
		})
	})

	Describe("invites", func() {
		BeforeEach(func() {
			Expect(db.CreateInvite(ctx, &HouseholdInvite{
				ID:          "inv1",
				InviteeID:   "bob",
				HouseholdID: "h1",
				Status:      InvitePending,
			})).To(Succeed())
		})

		It("lists invites addressed to the user", func() {
			invites, err := db.ListInvites(ctx, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(invites).To(HaveLen(1))

			invites, err = db.ListInvites(ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(invites).To(BeEmpty())
		})

		It("reads a single invite", func() {
			inv, err := db.GetInvite(ctx, "bob", "inv1")
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.HouseholdID).To(Equal("h1"))
			Expect(inv.Status).To(Equal(InvitePending))

			_, err = db.GetInvite(ctx, "alice", "inv1")
			Expect(err).To(MatchError(ErrInviteNotFound))
			_, err = db.GetInvite(ctx, "bob", "missing")
			Expect(err).To(MatchError(ErrInviteNotFound))
		})

		It("answers a pending invite once", func() {
			inv, err := db.RespondToInvite(ctx, "bob", "inv1", InviteAccepted)
			Expect(err).NotTo(HaveOccurred())
			Expect(inv.Status).To(Equal(InviteAccepted))

			_, err = db.RespondToInvite(ctx, "bob", "inv1", InviteRejected)
			Expect(err).To(MatchError(ErrInviteNotPending))
		})

		It("returns ErrInviteNotFound for another user's invite", func() {
			_, err := db.RespondToInvite(ctx, "alice", "inv1", InviteAccepted)
			Expect(err).To(MatchError(ErrInviteNotFound))
		})

		It("rejects non-terminal statuses", func() {
			_, err := db.RespondToInvite(ctx, "bob", "inv1", InvitePending)
			Expect(err).To(MatchError(ErrInvalidInput))
		})
	})
})
