// Package session caches signed-in user data in a key-value preference store.
package session

import (
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/household-expenses/internal/identity"
)

const bucketName = "sessions"

// Preference keys, one per cached field
const (
	keyID                 = "id"
	keyIDToken            = "id_token"
	keyDisplayName        = "display_name"
	keyProfilePic         = "profile_pic"
	keyEmail              = "email"
	keyNotificationToken  = "notification_token"
	keyCurrentHouseholdID = "current_household_id"
)

// ErrNoSession is returned when the user has no cached session
var ErrNoSession = errors.New("no session")

// Store defines the session operations used by the service
type Store interface {
	// Save replaces the cached session for user.ID
	Save(user *identity.UserData) error

	// Get returns the cached session or ErrNoSession
	Get(userID string) (*identity.UserData, error)

	// SetCurrentHousehold updates the current household id of an existing session
	SetCurrentHousehold(userID, householdID string) error

	// SetNotificationToken updates the push token of an existing session
	SetNotificationToken(userID, token string) error

	// Clear removes the session
	Clear(userID string) error

	// Close closes the store
	Close() error
}

// BoltStore implements Store with one nested bucket of preference keys per user
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) the session file at path
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Save replaces the cached session
func (s *BoltStore) Save(user *identity.UserData) error {
	if user.ID == "" {
		return fmt.Errorf("saving session: missing user id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketName))
		if root.Bucket([]byte(user.ID)) != nil {
			if err := root.DeleteBucket([]byte(user.ID)); err != nil {
				return fmt.Errorf("clearing previous session: %w", err)
			}
		}
		prefs, err := root.CreateBucket([]byte(user.ID))
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}

		values := map[string]string{
			keyID:                 user.ID,
			keyIDToken:            user.IDToken,
			keyDisplayName:        user.DisplayName,
			keyProfilePic:         user.ProfilePic,
			keyEmail:              user.Email,
			keyNotificationToken:  user.NotificationToken,
			keyCurrentHouseholdID: user.CurrentHouseholdID,
		}
		for k, v := range values {
			if v == "" {
				continue
			}
			if err := prefs.Put([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("writing %s: %w", k, err)
			}
		}
		return nil
	})
}

// Get returns the cached session
func (s *BoltStore) Get(userID string) (*identity.UserData, error) {
	var user *identity.UserData
	err := s.db.View(func(tx *bbolt.Tx) error {
		prefs := tx.Bucket([]byte(bucketName)).Bucket([]byte(userID))
		if prefs == nil {
			return ErrNoSession
		}
		get := func(key string) string {
			return string(prefs.Get([]byte(key)))
		}
		user = &identity.UserData{
			ID:                 get(keyID),
			IDToken:            get(keyIDToken),
			DisplayName:        get(keyDisplayName),
			ProfilePic:         get(keyProfilePic),
			Email:              get(keyEmail),
			NotificationToken:  get(keyNotificationToken),
			CurrentHouseholdID: get(keyCurrentHouseholdID),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *BoltStore) put(userID, key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		prefs := tx.Bucket([]byte(bucketName)).Bucket([]byte(userID))
		if prefs == nil {
			return ErrNoSession
		}
		if value == "" {
			return prefs.Delete([]byte(key))
		}
		return prefs.Put([]byte(key), []byte(value))
	})
}

// SetCurrentHousehold updates the current household id; empty clears it
func (s *BoltStore) SetCurrentHousehold(userID, householdID string) error {
	return s.put(userID, keyCurrentHouseholdID, householdID)
}

// SetNotificationToken updates the push token
func (s *BoltStore) SetNotificationToken(userID, token string) error {
	return s.put(userID, keyNotificationToken, token)
}

// Clear removes the session. Clearing a missing session is not an error.
func (s *BoltStore) Clear(userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketName))
		if root.Bucket([]byte(userID)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(userID))
	})
}

// Close closes the session store
func (s *BoltStore) Close() error {
	return s.db.Close()
}
