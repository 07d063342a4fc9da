package household

import (
	"errors"
	"slices"
	"time"
)

// UserHousehold is a reference to a household kept on the user document
type UserHousehold struct {
	ID   string `json:"id" firestore:"id"`
	Name string `json:"name" firestore:"name"`
}

// User is the stored user document
type User struct {
	ID                string          `json:"id" firestore:"id"`
	DisplayName       string          `json:"display_name" firestore:"displayName"`
	Email             string          `json:"email" firestore:"email"`
	ProfilePic        string          `json:"profile_pic,omitempty" firestore:"profilePic"`
	NotificationToken string          `json:"-" firestore:"notificationToken"`
	Households        []UserHousehold `json:"households" firestore:"households"`
	CreatedAt         time.Time       `json:"created_at" firestore:"createdAt"`
	UpdatedAt         time.Time       `json:"updated_at" firestore:"updatedAt"`
}

// HasHousehold reports whether the user already references the household
func (u *User) HasHousehold(householdID string) bool {
	return slices.ContainsFunc(u.Households, func(h UserHousehold) bool {
		return h.ID == householdID
	})
}

// HouseholdDetails is the full household document
type HouseholdDetails struct {
	ID        string    `json:"id" firestore:"id"`
	Name      string    `json:"name" firestore:"name"`
	Members   []string  `json:"members" firestore:"members"` // user ids
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}

// IsMember reports whether userID belongs to the household
func (h *HouseholdDetails) IsMember(userID string) bool {
	return slices.Contains(h.Members, userID)
}

// InviteStatus is the state of an invitation. Pending is the only non-terminal state.
type InviteStatus string

const (
	InvitePending  InviteStatus = "PENDING"
	InviteAccepted InviteStatus = "ACCEPTED"
	InviteRejected InviteStatus = "REJECTED"
)

// HouseholdInvite is an invitation stored under the invitee's user document
type HouseholdInvite struct {
	ID            string       `json:"id" firestore:"id"`
	InviteeID     string       `json:"invitee_id" firestore:"inviteeId"`
	HouseholdID   string       `json:"household_id" firestore:"householdId"`
	HouseholdName string       `json:"household_name" firestore:"householdName"`
	InviterID     string       `json:"inviter_id" firestore:"inviterId"`
	InviterName   string       `json:"inviter_name" firestore:"inviterName"`
	Timestamp     time.Time    `json:"timestamp" firestore:"timestamp"`
	Status        InviteStatus `json:"status" firestore:"status"`
}

var (
	ErrUnauthenticatedUser = errors.New("unauthenticated user")
	ErrHouseholdNotFound   = errors.New("household not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInviteNotFound      = errors.New("invite not found")
	ErrExpenseNotFound     = errors.New("expense not found")
	ErrInviteNotPending    = errors.New("invite already answered")
	ErrAlreadyMember       = errors.New("user is already a member")
	ErrNoReceiptText       = errors.New("no text found on receipt")
	ErrInvalidInput        = errors.New("invalid input")
)

// transitionInvite applies a response to an invite. Only pending invites can change.
func transitionInvite(inv *HouseholdInvite, status InviteStatus) error {
	if inv.Status != InvitePending {
		return ErrInviteNotPending
	}
	if status != InviteAccepted && status != InviteRejected {
		return ErrInvalidInput
	}
	inv.Status = status
	return nil
}
