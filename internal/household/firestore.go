package household

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/zombor/household-expenses/internal/expense"
)

// Collection layout:
//
//	users/{userId}
//	users/{userId}/invites/{inviteId}
//	households/{householdId}
//	households/{householdId}/expenses/{expenseId}
const (
	usersCollection      = "users"
	householdsCollection = "households"
	invitesCollection    = "invites"
	expensesCollection   = "expenses"
)

// FirestoreDB implements DB on Cloud Firestore
type FirestoreDB struct {
	client *firestore.Client
	now    func() time.Time
}

// NewFirestoreDB wraps an initialised Firestore client
func NewFirestoreDB(client *firestore.Client) *FirestoreDB {
	return &FirestoreDB{client: client, now: time.Now}
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (f *FirestoreDB) userRef(id string) *firestore.DocumentRef {
	return f.client.Collection(usersCollection).Doc(id)
}

func (f *FirestoreDB) householdRef(id string) *firestore.DocumentRef {
	return f.client.Collection(householdsCollection).Doc(id)
}

func (f *FirestoreDB) expenses(householdID string) *firestore.CollectionRef {
	return f.householdRef(householdID).Collection(expensesCollection)
}

func (f *FirestoreDB) invites(userID string) *firestore.CollectionRef {
	return f.userRef(userID).Collection(invitesCollection)
}

func decodeUser(snap *firestore.DocumentSnapshot) (*User, error) {
	var user User
	if err := snap.DataTo(&user); err != nil {
		return nil, fmt.Errorf("decoding user %s: %w", snap.Ref.ID, err)
	}
	return &user, nil
}

// GetUser retrieves a user by ID
func (f *FirestoreDB) GetUser(ctx context.Context, id string) (*User, error) {
	snap, err := f.userRef(id).Get(ctx)
	if isNotFound(err) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return decodeUser(snap)
}

// FindUserByEmail queries users by their (lower-cased) email
func (f *FirestoreDB) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	docs, err := f.client.Collection(usersCollection).Where("email", "==", email).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("querying user by email: %w", err)
	}
	if len(docs) == 0 {
		return nil, ErrUserNotFound
	}
	return decodeUser(docs[0])
}

// SaveUserProfile creates or updates the profile fields of a user
func (f *FirestoreDB) SaveUserProfile(ctx context.Context, profile *User) (*User, error) {
	var saved *User
	ref := f.userRef(profile.ID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := f.now()
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			saved = &User{
				ID:          profile.ID,
				DisplayName: profile.DisplayName,
				Email:       profile.Email,
				ProfilePic:  profile.ProfilePic,
				Households:  []UserHousehold{},
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			return tx.Set(ref, saved)
		}
		if err != nil {
			return err
		}
		saved, err = decodeUser(snap)
		if err != nil {
			return err
		}
		saved.DisplayName = profile.DisplayName
		saved.Email = profile.Email
		saved.ProfilePic = profile.ProfilePic
		saved.UpdatedAt = now
		return tx.Update(ref, []firestore.Update{
			{Path: "displayName", Value: saved.DisplayName},
			{Path: "email", Value: saved.Email},
			{Path: "profilePic", Value: saved.ProfilePic},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("saving user profile: %w", err)
	}
	return saved, nil
}

// SetNotificationToken updates the user's push token
func (f *FirestoreDB) SetNotificationToken(ctx context.Context, userID, token string) error {
	_, err := f.userRef(userID).Update(ctx, []firestore.Update{
		{Path: "notificationToken", Value: token},
		{Path: "updatedAt", Value: f.now()},
	})
	if isNotFound(err) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("updating notification token: %w", err)
	}
	return nil
}

// AddHouseholdToUser adds the household reference in a Firestore transaction.
// Firestore retries the function when the user document changes concurrently.
func (f *FirestoreDB) AddHouseholdToUser(ctx context.Context, userID string, household UserHousehold) (bool, error) {
	var added bool
	ref := f.userRef(userID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		added = false
		now := f.now()
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			added = true
			return tx.Set(ref, &User{
				ID:         userID,
				Households: []UserHousehold{household},
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
		if err != nil {
			return err
		}
		user, err := decodeUser(snap)
		if err != nil {
			return err
		}
		if user.HasHousehold(household.ID) {
			return nil
		}
		added = true
		return tx.Update(ref, []firestore.Update{
			{Path: "households", Value: append(user.Households, household)},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return false, fmt.Errorf("adding household to user: %w", err)
	}
	return added, nil
}

// RemoveHouseholdFromUser drops a household reference; a missing user is not an error
func (f *FirestoreDB) RemoveHouseholdFromUser(ctx context.Context, userID, householdID string) error {
	ref := f.userRef(userID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		user, err := decodeUser(snap)
		if err != nil {
			return err
		}
		households := slices.DeleteFunc(user.Households, func(h UserHousehold) bool {
			return h.ID == householdID
		})
		return tx.Update(ref, []firestore.Update{
			{Path: "households", Value: households},
			{Path: "updatedAt", Value: f.now()},
		})
	})
	if err != nil {
		return fmt.Errorf("removing household from user: %w", err)
	}
	return nil
}

// CreateHousehold saves a new household; an existing id is an error
func (f *FirestoreDB) CreateHousehold(ctx context.Context, household *HouseholdDetails) error {
	if _, err := f.householdRef(household.ID).Create(ctx, household); err != nil {
		return fmt.Errorf("creating household: %w", err)
	}
	return nil
}

// GetHousehold retrieves a household by ID
func (f *FirestoreDB) GetHousehold(ctx context.Context, id string) (*HouseholdDetails, error) {
	snap, err := f.householdRef(id).Get(ctx)
	if isNotFound(err) {
		return nil, ErrHouseholdNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}
	var h HouseholdDetails
	if err := snap.DataTo(&h); err != nil {
		return nil, fmt.Errorf("decoding household %s: %w", id, err)
	}
	return &h, nil
}

// AddMember adds a user to the household's members with an array union
func (f *FirestoreDB) AddMember(ctx context.Context, householdID, userID string) error {
	_, err := f.householdRef(householdID).Update(ctx, []firestore.Update{
		{Path: "members", Value: firestore.ArrayUnion(userID)},
	})
	if isNotFound(err) {
		return ErrHouseholdNotFound
	}
	if err != nil {
		return fmt.Errorf("adding member: %w", err)
	}
	return nil
}

// RemoveMember drops a member, deleting the household when nobody is left
func (f *FirestoreDB) RemoveMember(ctx context.Context, householdID, userID string) (int, error) {
	var remaining int
	ref := f.householdRef(householdID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return ErrHouseholdNotFound
		}
		if err != nil {
			return err
		}
		var h HouseholdDetails
		if err := snap.DataTo(&h); err != nil {
			return fmt.Errorf("decoding household %s: %w", householdID, err)
		}
		h.Members = slices.DeleteFunc(h.Members, func(id string) bool { return id == userID })
		remaining = len(h.Members)
		if remaining == 0 {
			return tx.Delete(ref)
		}
		return tx.Update(ref, []firestore.Update{{Path: "members", Value: h.Members}})
	})
	if errors.Is(err, ErrHouseholdNotFound) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("removing member: %w", err)
	}
	if remaining == 0 {
		if err := f.deleteExpenses(ctx, householdID); err != nil {
			return 0, err
		}
	}
	return remaining, nil
}

// writeJob is a queued BulkWriter operation
type writeJob interface {
	Results() (*firestore.WriteResult, error)
}

// awaitWrites blocks until every job has finished and returns the first failure
func awaitWrites(jobs []writeJob) error {
	var firstErr error
	failed := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d writes failed: %w", failed, len(jobs), firstErr)
	}
	return nil
}

// deleteExpenses removes the expenses subcollection; Firestore does not cascade deletes
func (f *FirestoreDB) deleteExpenses(ctx context.Context, householdID string) error {
	bw := f.client.BulkWriter(ctx)
	iter := f.expenses(householdID).Documents(ctx)
	defer iter.Stop()
	var jobs []writeJob
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			bw.End()
			return fmt.Errorf("listing expenses for deletion: %w", err)
		}
		job, err := bw.Delete(doc.Ref)
		if err != nil {
			bw.End()
			return fmt.Errorf("queueing expense deletion: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	if err := awaitWrites(jobs); err != nil {
		return fmt.Errorf("deleting expenses: %w", err)
	}
	return nil
}

// DeleteHousehold removes the household and its expenses
func (f *FirestoreDB) DeleteHousehold(ctx context.Context, id string) error {
	if err := f.deleteExpenses(ctx, id); err != nil {
		return err
	}
	if _, err := f.householdRef(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting household: %w", err)
	}
	return nil
}

// SaveExpense stores an expense under its household
func (f *FirestoreDB) SaveExpense(ctx context.Context, e *expense.Expense) error {
	if _, err := f.expenses(e.HouseholdID).Doc(e.ID).Set(ctx, e); err != nil {
		return fmt.Errorf("saving expense: %w", err)
	}
	return nil
}

// ListExpenses returns all expenses of a household
func (f *FirestoreDB) ListExpenses(ctx context.Context, householdID string) ([]*expense.Expense, error) {
	docs, err := f.expenses(householdID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	expenses := make([]*expense.Expense, 0, len(docs))
	for _, doc := range docs {
		var e expense.Expense
		if err := doc.DataTo(&e); err != nil {
			return nil, fmt.Errorf("decoding expense %s: %w", doc.Ref.ID, err)
		}
		expenses = append(expenses, &e)
	}
	return expenses, nil
}

// DeleteExpense removes one expense
func (f *FirestoreDB) DeleteExpense(ctx context.Context, householdID, expenseID string) error {
	_, err := f.expenses(householdID).Doc(expenseID).Delete(ctx, firestore.Exists)
	if isNotFound(err) {
		return ErrExpenseNotFound
	}
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// CreateInvite stores an invite under the invitee
func (f *FirestoreDB) CreateInvite(ctx context.Context, invite *HouseholdInvite) error {
	if _, err := f.invites(invite.InviteeID).Doc(invite.ID).Set(ctx, invite); err != nil {
		return fmt.Errorf("creating invite: %w", err)
	}
	return nil
}

// ListInvites returns every invite addressed to the user
func (f *FirestoreDB) ListInvites(ctx context.Context, userID string) ([]*HouseholdInvite, error) {
	docs, err := f.invites(userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	invites := make([]*HouseholdInvite, 0, len(docs))
	for _, doc := range docs {
		var inv HouseholdInvite
		if err := doc.DataTo(&inv); err != nil {
			return nil, fmt.Errorf("decoding invite %s: %w", doc.Ref.ID, err)
		}
		invites = append(invites, &inv)
	}
	return invites, nil
}

// GetInvite reads one invite addressed to the user
func (f *FirestoreDB) GetInvite(ctx context.Context, userID, inviteID string) (*HouseholdInvite, error) {
	snap, err := f.invites(userID).Doc(inviteID).Get(ctx)
	if isNotFound(err) {
		return nil, ErrInviteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting invite: %w", err)
	}
	var inv HouseholdInvite
	if err := snap.DataTo(&inv); err != nil {
		return nil, fmt.Errorf("decoding invite %s: %w", inviteID, err)
	}
	return &inv, nil
}

// RespondToInvite moves a pending invite to a terminal status in a transaction
func (f *FirestoreDB) RespondToInvite(ctx context.Context, userID, inviteID string, status InviteStatus) (*HouseholdInvite, error) {
	var inv HouseholdInvite
	ref := f.invites(userID).Doc(inviteID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return ErrInviteNotFound
		}
		if err != nil {
			return err
		}
		if err := snap.DataTo(&inv); err != nil {
			return fmt.Errorf("decoding invite %s: %w", inviteID, err)
		}
		if err := transitionInvite(&inv, status); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{{Path: "status", Value: inv.Status}})
	})
	if errors.Is(err, ErrInviteNotFound) || errors.Is(err, ErrInviteNotPending) || errors.Is(err, ErrInvalidInput) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("responding to invite: %w", err)
	}
	return &inv, nil
}

// Close closes the Firestore client
func (f *FirestoreDB) Close() error {
	return f.client.Close()
}
