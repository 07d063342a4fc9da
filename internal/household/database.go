package household

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/household-expenses/internal/expense"
)

const (
	usersBucket      = "users"
	householdsBucket = "households"
	invitesBucket    = "invites"  // nested bucket per invitee user id
	expensesBucket   = "expenses" // nested bucket per household id
)

// UserStore holds user documents
type UserStore interface {
	// GetUser returns the user document or ErrUserNotFound
	GetUser(ctx context.Context, id string) (*User, error)

	// FindUserByEmail returns the user with that email or ErrUserNotFound
	FindUserByEmail(ctx context.Context, email string) (*User, error)

	// SaveUserProfile creates the user or updates its profile fields,
	// keeping households and notification token. Returns the stored document.
	SaveUserProfile(ctx context.Context, user *User) (*User, error)

	// SetNotificationToken updates the user's push token
	SetNotificationToken(ctx context.Context, userID, token string) error

	// AddHouseholdToUser adds a household reference in a read-modify-write
	// transaction. It reports false, without writing, when already present.
	AddHouseholdToUser(ctx context.Context, userID string, household UserHousehold) (bool, error)

	// RemoveHouseholdFromUser drops a household reference
	RemoveHouseholdFromUser(ctx context.Context, userID, householdID string) error
}

// HouseholdStore holds household documents
type HouseholdStore interface {
	// CreateHousehold stores a new household
	CreateHousehold(ctx context.Context, household *HouseholdDetails) error

	// GetHousehold returns the household or ErrHouseholdNotFound
	GetHousehold(ctx context.Context, id string) (*HouseholdDetails, error)

	// AddMember adds a user to the members list; adding an existing member is a no-op
	AddMember(ctx context.Context, householdID, userID string) error

	// RemoveMember drops a member and returns how many remain. The household
	// and its expenses are deleted when the last member leaves.
	RemoveMember(ctx context.Context, householdID, userID string) (int, error)

	// DeleteHousehold removes the household and its expenses
	DeleteHousehold(ctx context.Context, id string) error
}

// ExpenseStore holds expenses under their household
type ExpenseStore interface {
	// SaveExpense stores an expense under expense.HouseholdID
	SaveExpense(ctx context.Context, e *expense.Expense) error

	// ListExpenses returns all expenses of a household, in no particular order
	ListExpenses(ctx context.Context, householdID string) ([]*expense.Expense, error)

	// DeleteExpense removes one expense or returns ErrExpenseNotFound
	DeleteExpense(ctx context.Context, householdID, expenseID string) error
}

// InviteStore holds invitations under the invitee
type InviteStore interface {
	// CreateInvite stores an invite under invite.InviteeID
	CreateInvite(ctx context.Context, invite *HouseholdInvite) error

	// ListInvites returns every invite addressed to the user
	ListInvites(ctx context.Context, userID string) ([]*HouseholdInvite, error)

	// GetInvite returns one invite addressed to the user, or ErrInviteNotFound
	GetInvite(ctx context.Context, userID, inviteID string) (*HouseholdInvite, error)

	// RespondToInvite moves a pending invite to a terminal status and returns it.
	// Returns ErrInviteNotFound or ErrInviteNotPending.
	RespondToInvite(ctx context.Context, userID, inviteID string, status InviteStatus) (*HouseholdInvite, error)
}

// DB is the complete document store
type DB interface {
	UserStore
	HouseholdStore
	ExpenseStore
	InviteStore

	// Close closes the database connection
	Close() error
}

// BoltDB implements DB on an embedded bbolt file
type BoltDB struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{usersBucket, householdsBucket, invitesBucket, expensesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db, now: time.Now}, nil
}

func getJSON(b *bbolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshaling %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bbolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// storedUser carries the fields User hides from JSON responses
type storedUser struct {
	User
	NotificationToken string `json:"notification_token,omitempty"`
}

func getUser(tx *bbolt.Tx, id string) (*User, error) {
	var su storedUser
	found, err := getJSON(tx.Bucket([]byte(usersBucket)), id, &su)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrUserNotFound
	}
	su.User.NotificationToken = su.NotificationToken
	return &su.User, nil
}

func putUser(tx *bbolt.Tx, user *User) error {
	return putJSON(tx.Bucket([]byte(usersBucket)), user.ID, storedUser{User: *user, NotificationToken: user.NotificationToken})
}

// GetUser retrieves a user by ID
func (b *BoltDB) GetUser(ctx context.Context, id string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByEmail scans the users bucket for a case-insensitive email match
func (b *BoltDB) FindUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usersBucket)).ForEach(func(k, v []byte) error {
			if user != nil {
				return nil
			}
			var su storedUser
			if err := json.Unmarshal(v, &su); err != nil {
				return fmt.Errorf("unmarshaling user: %w", err)
			}
			if strings.EqualFold(su.Email, email) {
				su.User.NotificationToken = su.NotificationToken
				user = &su.User
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// SaveUserProfile creates or updates the profile fields of a user
func (b *BoltDB) SaveUserProfile(ctx context.Context, profile *User) (*User, error) {
	var saved *User
	err := b.db.Update(func(tx *bbolt.Tx) error {
		now := b.now()
		user, err := getUser(tx, profile.ID)
		if err == ErrUserNotFound {
			user = &User{ID: profile.ID, Households: []UserHousehold{}, CreatedAt: now}
		} else if err != nil {
			return err
		}
		user.DisplayName = profile.DisplayName
		user.Email = profile.Email
		user.ProfilePic = profile.ProfilePic
		user.UpdatedAt = now
		saved = user
		return putUser(tx, user)
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// SetNotificationToken updates the user's push token
func (b *BoltDB) SetNotificationToken(ctx context.Context, userID, token string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, userID)
		if err != nil {
			return err
		}
		user.NotificationToken = token
		user.UpdatedAt = b.now()
		return putUser(tx, user)
	})
}

// AddHouseholdToUser adds the household reference inside one bbolt write transaction
func (b *BoltDB) AddHouseholdToUser(ctx context.Context, userID string, household UserHousehold) (bool, error) {
	var added bool
	err := b.db.Update(func(tx *bbolt.Tx) error {
		added = false
		now := b.now()
		user, err := getUser(tx, userID)
		if err == ErrUserNotFound {
			user = &User{ID: userID, CreatedAt: now}
		} else if err != nil {
			return err
		}
		if user.HasHousehold(household.ID) {
			return nil
		}
		user.Households = append(user.Households, household)
		user.UpdatedAt = now
		added = true
		return putUser(tx, user)
	})
	if err != nil {
		return false, fmt.Errorf("adding household to user: %w", err)
	}
	return added, nil
}

// RemoveHouseholdFromUser drops a household reference; a missing user is not an error
func (b *BoltDB) RemoveHouseholdFromUser(ctx context.Context, userID, householdID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		user, err := getUser(tx, userID)
		if err == ErrUserNotFound {
			return nil
		} else if err != nil {
			return err
		}
		user.Households = slices.DeleteFunc(user.Households, func(h UserHousehold) bool {
			return h.ID == householdID
		})
		user.UpdatedAt = b.now()
		return putUser(tx, user)
	})
}

func getHousehold(tx *bbolt.Tx, id string) (*HouseholdDetails, error) {
	var h HouseholdDetails
	found, err := getJSON(tx.Bucket([]byte(householdsBucket)), id, &h)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrHouseholdNotFound
	}
	return &h, nil
}

func deleteHousehold(tx *bbolt.Tx, id string) error {
	if err := tx.Bucket([]byte(householdsBucket)).Delete([]byte(id)); err != nil {
		return err
	}
	expenses := tx.Bucket([]byte(expensesBucket))
	if expenses.Bucket([]byte(id)) != nil {
		return expenses.DeleteBucket([]byte(id))
	}
	return nil
}

// CreateHousehold saves a new household
func (b *BoltDB) CreateHousehold(ctx context.Context, household *HouseholdDetails) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return putJSON(tx.Bucket([]byte(householdsBucket)), household.ID, household)
	})
}

// GetHousehold retrieves a household by ID
func (b *BoltDB) GetHousehold(ctx context.Context, id string) (*HouseholdDetails, error) {
	var h *HouseholdDetails
	err := b.db.View(func(tx *bbolt.Tx) error {
		var err error
		h, err = getHousehold(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// AddMember adds a user to the household's members
func (b *BoltDB) AddMember(ctx context.Context, householdID, userID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		h, err := getHousehold(tx, householdID)
		if err != nil {
			return err
		}
		if h.IsMember(userID) {
			return nil
		}
		h.Members = append(h.Members, userID)
		return putJSON(tx.Bucket([]byte(householdsBucket)), h.ID, h)
	})
}

// RemoveMember drops a member, deleting the household when nobody is left
func (b *BoltDB) RemoveMember(ctx context.Context, householdID, userID string) (int, error) {
	var remaining int
	err := b.db.Update(func(tx *bbolt.Tx) error {
		h, err := getHousehold(tx, householdID)
		if err != nil {
			return err
		}
		h.Members = slices.DeleteFunc(h.Members, func(id string) bool { return id == userID })
		remaining = len(h.Members)
		if remaining == 0 {
			return deleteHousehold(tx, householdID)
		}
		return putJSON(tx.Bucket([]byte(householdsBucket)), h.ID, h)
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// DeleteHousehold removes the household and its expenses
func (b *BoltDB) DeleteHousehold(ctx context.Context, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return deleteHousehold(tx, id)
	})
}

// SaveExpense stores an expense in its household's nested bucket
func (b *BoltDB) SaveExpense(ctx context.Context, e *expense.Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getHousehold(tx, e.HouseholdID); err != nil {
			return err
		}
		bucket, err := tx.Bucket([]byte(expensesBucket)).CreateBucketIfNotExists([]byte(e.HouseholdID))
		if err != nil {
			return fmt.Errorf("creating expense bucket: %w", err)
		}
		return putJSON(bucket, e.ID, e)
	})
}

// ListExpenses returns all expenses of a household
func (b *BoltDB) ListExpenses(ctx context.Context, householdID string) ([]*expense.Expense, error) {
	expenses := make([]*expense.Expense, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expensesBucket)).Bucket([]byte(householdID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var e expense.Expense
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshaling expense: %w", err)
			}
			expenses = append(expenses, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return expenses, nil
}

// DeleteExpense removes one expense
func (b *BoltDB) DeleteExpense(ctx context.Context, householdID, expenseID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expensesBucket)).Bucket([]byte(householdID))
		if bucket == nil || bucket.Get([]byte(expenseID)) == nil {
			return ErrExpenseNotFound
		}
		return bucket.Delete([]byte(expenseID))
	})
}

// CreateInvite stores an invite in the invitee's nested bucket
func (b *BoltDB) CreateInvite(ctx context.Context, invite *HouseholdInvite) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(invitesBucket)).CreateBucketIfNotExists([]byte(invite.InviteeID))
		if err != nil {
			return fmt.Errorf("creating invite bucket: %w", err)
		}
		return putJSON(bucket, invite.ID, invite)
	})
}

// ListInvites returns every invite addressed to the user
func (b *BoltDB) ListInvites(ctx context.Context, userID string) ([]*HouseholdInvite, error) {
	invites := make([]*HouseholdInvite, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invitesBucket)).Bucket([]byte(userID))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var inv HouseholdInvite
			if err := json.Unmarshal(v, &inv); err != nil {
				return fmt.Errorf("unmarshaling invite: %w", err)
			}
			invites = append(invites, &inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return invites, nil
}

// GetInvite reads one invite from the invitee's nested bucket
func (b *BoltDB) GetInvite(ctx context.Context, userID, inviteID string) (*HouseholdInvite, error) {
	var inv HouseholdInvite
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invitesBucket)).Bucket([]byte(userID))
		if bucket == nil {
			return ErrInviteNotFound
		}
		found, err := getJSON(bucket, inviteID, &inv)
		if err != nil {
			return err
		}
		if !found {
			return ErrInviteNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// RespondToInvite moves a pending invite to a terminal status
func (b *BoltDB) RespondToInvite(ctx context.Context, userID, inviteID string, status InviteStatus) (*HouseholdInvite, error) {
	var inv HouseholdInvite
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(invitesBucket)).Bucket([]byte(userID))
		if bucket == nil {
			return ErrInviteNotFound
		}
		found, err := getJSON(bucket, inviteID, &inv)
		if err != nil {
			return err
		}
		if !found {
			return ErrInviteNotFound
		}
		if err := transitionInvite(&inv, status); err != nil {
			return err
		}
		return putJSON(bucket, inviteID, &inv)
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
