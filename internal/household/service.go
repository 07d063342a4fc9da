package household

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/household-expenses/internal/expense"
	"github.com/zombor/household-expenses/internal/extraction"
	"github.com/zombor/household-expenses/internal/identity"
	"github.com/zombor/household-expenses/internal/notify"
	"github.com/zombor/household-expenses/internal/scanning"
	"github.com/zombor/household-expenses/internal/session"
)

// IDGenerator generates unique IDs for stored documents
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service implements the household, invitation and expense use cases
type Service struct {
	db          DB
	sessions    session.Store
	auth        identity.Authenticator
	recognizer  scanning.Recognizer
	extractor   extraction.Extractor
	captures    Storage
	notifier    notify.Notifier
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(db DB, sessions session.Store, auth identity.Authenticator, recognizer scanning.Recognizer, extractor extraction.Extractor, captures Storage, notifier notify.Notifier) *Service {
	return NewServiceWithDeps(db, sessions, auth, recognizer, extractor, captures, notifier, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, sessions session.Store, auth identity.Authenticator, recognizer scanning.Recognizer, extractor extraction.Extractor, captures Storage, notifier notify.Notifier, idGen IDGenerator, timeSrc TimeSource) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{
		db:          db,
		sessions:    sessions,
		auth:        auth,
		recognizer:  recognizer,
		extractor:   extractor,
		captures:    captures,
		notifier:    notifier,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticate validates a bearer ID token without touching the session
func (s *Service) Authenticate(ctx context.Context, idToken string) (*identity.UserData, error) {
	return s.auth.Authenticate(ctx, identity.Credential{Type: identity.CredentialTypeGoogleIDToken, Token: idToken})
}

// SignIn validates the credential, upserts the user document and caches the session
func (s *Service) SignIn(ctx context.Context, cred identity.Credential) (*identity.UserData, error) {
	user, err := s.auth.Authenticate(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("authenticating: %w", err)
	}
	user.Email = normalizeEmail(user.Email)

	stored, err := s.db.SaveUserProfile(ctx, &User{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		Email:       user.Email,
		ProfilePic:  user.ProfilePic,
	})
	if err != nil {
		return nil, fmt.Errorf("saving user profile: %w", err)
	}
	user.NotificationToken = stored.NotificationToken

	// Keep the previous household selection while it is still valid
	if prev, err := s.sessions.Get(user.ID); err == nil && stored.HasHousehold(prev.CurrentHouseholdID) {
		user.CurrentHouseholdID = prev.CurrentHouseholdID
	} else if len(stored.Households) > 0 {
		user.CurrentHouseholdID = stored.Households[0].ID
	}

	if err := s.sessions.Save(user); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}

	slog.Info("User signed in", "user_id", user.ID)
	return user, nil
}

// SignOut clears the cached session
func (s *Service) SignOut(ctx context.Context, userID string) error {
	if err := s.sessions.Clear(userID); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// Session returns the cached session of a signed-in user
func (s *Service) Session(ctx context.Context, userID string) (*identity.UserData, error) {
	user, err := s.sessions.Get(userID)
	if errors.Is(err, session.ErrNoSession) {
		return nil, ErrUnauthenticatedUser
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}
	return user, nil
}

// SyncNotificationToken stores the device's push token on the user and in the session
func (s *Service) SyncNotificationToken(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: notification token is required", ErrInvalidInput)
	}
	if err := s.db.SetNotificationToken(ctx, userID, token); err != nil {
		return fmt.Errorf("storing notification token: %w", err)
	}
	if err := s.sessions.SetNotificationToken(userID, token); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return ErrUnauthenticatedUser
		}
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// setCurrentHousehold updates the session; a missing session is only logged
func (s *Service) setCurrentHousehold(userID, householdID string) {
	if err := s.sessions.SetCurrentHousehold(userID, householdID); err != nil {
		slog.Warn("Failed to update current household", "user_id", userID, "household_id", householdID, "error", err)
	}
}

// CreateHousehold creates a household with the user as its only member.
// If the user document cannot reference it, the household is deleted again.
func (s *Service) CreateHousehold(ctx context.Context, user *identity.UserData, name string) (*HouseholdDetails, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: household name is required", ErrInvalidInput)
	}

	household := &HouseholdDetails{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		Members:   []string{user.ID},
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.CreateHousehold(ctx, household); err != nil {
		return nil, fmt.Errorf("creating household: %w", err)
	}

	if _, err := s.db.AddHouseholdToUser(ctx, user.ID, UserHousehold{ID: household.ID, Name: household.Name}); err != nil {
		if delErr := s.db.DeleteHousehold(ctx, household.ID); delErr != nil {
			slog.Error("Failed to delete orphaned household",
				"household_id", household.ID,
				"error", delErr,
			)
		}
		return nil, fmt.Errorf("adding household to user: %w", err)
	}

	s.setCurrentHousehold(user.ID, household.ID)
	slog.Info("Household created", "household_id", household.ID, "user_id", user.ID)
	return household, nil
}

// ListHouseholds returns the households referenced by the user document
func (s *Service) ListHouseholds(ctx context.Context, userID string) ([]UserHousehold, error) {
	user, err := s.db.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return []UserHousehold{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	if user.Households == nil {
		return []UserHousehold{}, nil
	}
	return user.Households, nil
}

// requireMember loads a household, hiding it from non-members
func (s *Service) requireMember(ctx context.Context, userID, householdID string) (*HouseholdDetails, error) {
	household, err := s.db.GetHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if !household.IsMember(userID) {
		return nil, ErrHouseholdNotFound
	}
	return household, nil
}

// GetHousehold returns a household the user belongs to
func (s *Service) GetHousehold(ctx context.Context, userID, householdID string) (*HouseholdDetails, error) {
	household, err := s.requireMember(ctx, userID, householdID)
	if err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}
	return household, nil
}

// SwitchHousehold makes a household the session's current one
func (s *Service) SwitchHousehold(ctx context.Context, userID, householdID string) error {
	if _, err := s.requireMember(ctx, userID, householdID); err != nil {
		return fmt.Errorf("getting household: %w", err)
	}
	if err := s.sessions.SetCurrentHousehold(userID, householdID); err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return ErrUnauthenticatedUser
		}
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

// LeaveHousehold removes the user from a household. The last member leaving deletes it.
func (s *Service) LeaveHousehold(ctx context.Context, userID, householdID string) error {
	if _, err := s.requireMember(ctx, userID, householdID); err != nil {
		return fmt.Errorf("getting household: %w", err)
	}

	remaining, err := s.db.RemoveMember(ctx, householdID, userID)
	if err != nil {
		return fmt.Errorf("removing member: %w", err)
	}
	if err := s.db.RemoveHouseholdFromUser(ctx, userID, householdID); err != nil {
		return fmt.Errorf("removing household from user: %w", err)
	}

	if current, err := s.sessions.Get(userID); err == nil && current.CurrentHouseholdID == householdID {
		s.setCurrentHousehold(userID, "")
	}

	slog.Info("User left household", "household_id", householdID, "user_id", userID, "remaining_members", remaining)
	return nil
}

// InviteUser invites the user registered with email into a household
func (s *Service) InviteUser(ctx context.Context, inviter *identity.UserData, householdID, email string) (*HouseholdInvite, error) {
	household, err := s.requireMember(ctx, inviter.ID, householdID)
	if err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}

	invitee, err := s.db.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("finding invitee: %w", err)
	}
	if household.IsMember(invitee.ID) {
		return nil, ErrAlreadyMember
	}

	invite := &HouseholdInvite{
		ID:            s.idGenerator.Generate(),
		InviteeID:     invitee.ID,
		HouseholdID:   household.ID,
		HouseholdName: household.Name,
		InviterID:     inviter.ID,
		InviterName:   inviter.DisplayName,
		Timestamp:     s.timeSource.Now(),
		Status:        InvitePending,
	}
	if err := s.db.CreateInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}

	if invitee.NotificationToken != "" {
		err := s.notifier.SendToDevice(ctx, invitee.NotificationToken, notify.Notification{
			Title: "Household invitation",
			Body:  fmt.Sprintf("%s invited you to join %s", inviter.DisplayName, household.Name),
			Data: map[string]string{
				"invite_id":    invite.ID,
				"household_id": household.ID,
			},
		})
		if err != nil {
			slog.Warn("Failed to notify invitee", "invite_id", invite.ID, "error", err)
		}
	}

	return invite, nil
}

// ListInvites returns the user's pending invites, newest first
func (s *Service) ListInvites(ctx context.Context, userID string) ([]*HouseholdInvite, error) {
	all, err := s.db.ListInvites(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	pending := make([]*HouseholdInvite, 0, len(all))
	for _, inv := range all {
		if inv.Status != InvitePending {
			continue
		}
		// the last member leaving deletes the household but not its invites
		_, err := s.db.GetHousehold(ctx, inv.HouseholdID)
		if errors.Is(err, ErrHouseholdNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting household %s: %w", inv.HouseholdID, err)
		}
		pending = append(pending, inv)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Timestamp.After(pending[j].Timestamp)
	})
	return pending, nil
}

// RespondToInvite accepts or rejects a pending invite. Accepting joins the household.
// Accepting an invite to a household that no longer exists rejects the invite
// and returns ErrHouseholdNotFound.
func (s *Service) RespondToInvite(ctx context.Context, userID, inviteID string, accept bool) (*HouseholdInvite, error) {
	status := InviteRejected
	if accept {
		status = InviteAccepted
		if err := s.checkInviteHousehold(ctx, userID, inviteID); err != nil {
			return nil, err
		}
	}

	invite, err := s.db.RespondToInvite(ctx, userID, inviteID, status)
	if err != nil {
		return nil, fmt.Errorf("responding to invite: %w", err)
	}
	if !accept {
		return invite, nil
	}

	if err := s.db.AddMember(ctx, invite.HouseholdID, userID); err != nil {
		return nil, fmt.Errorf("joining household: %w", err)
	}
	if _, err := s.db.AddHouseholdToUser(ctx, userID, UserHousehold{ID: invite.HouseholdID, Name: invite.HouseholdName}); err != nil {
		return nil, fmt.Errorf("adding household to user: %w", err)
	}
	s.setCurrentHousehold(userID, invite.HouseholdID)

	slog.Info("Invite accepted", "invite_id", invite.ID, "household_id", invite.HouseholdID, "user_id", userID)
	return invite, nil
}

// checkInviteHousehold makes sure a pending invite still points at a household
// before it is accepted. Invites to deleted households are closed as rejected.
func (s *Service) checkInviteHousehold(ctx context.Context, userID, inviteID string) error {
	invite, err := s.db.GetInvite(ctx, userID, inviteID)
	if err != nil {
		return fmt.Errorf("getting invite: %w", err)
	}
	if invite.Status != InvitePending {
		return fmt.Errorf("responding to invite: %w", ErrInviteNotPending)
	}

	_, err = s.db.GetHousehold(ctx, invite.HouseholdID)
	if errors.Is(err, ErrHouseholdNotFound) {
		if _, rejectErr := s.db.RespondToInvite(ctx, userID, inviteID, InviteRejected); rejectErr != nil {
			slog.Warn("Failed to close invite to deleted household", "invite_id", inviteID, "error", rejectErr)
		}
		return fmt.Errorf("joining household: %w", err)
	}
	if err != nil {
		return fmt.Errorf("getting household: %w", err)
	}
	return nil
}

// ScanReceipt recognises the text on a receipt capture and asks the AI for a suggestion.
// The capture file only lives for the duration of the call.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*extraction.SuggestedExpenseInformation, error) {
	name, err := s.captures.Save(captureName(s.idGenerator.Generate(), filename), data)
	if err != nil {
		return nil, fmt.Errorf("saving capture: %w", err)
	}
	defer func() {
		if err := s.captures.Delete(name); err != nil {
			slog.Warn("Failed to delete capture", "capture", name, "error", err)
		}
	}()

	capture, err := s.captures.Get(name)
	if err != nil {
		return nil, fmt.Errorf("reading capture: %w", err)
	}

	text, err := s.recognizer.RecognizeText(ctx, capture, contentType)
	if err != nil {
		slog.Error("Failed to recognise receipt text",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("recognising text: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrNoReceiptText
	}

	suggestion, err := s.extractor.Suggest(ctx, text)
	if err != nil {
		slog.Error("Failed to extract expense suggestion", "filename", filename, "error", err)
		return nil, fmt.Errorf("extracting suggestion: %w", err)
	}
	return suggestion, nil
}

// ReviewExpense validates the edited review form
func (s *Service) ReviewExpense(rows map[expense.Section]string) (*expense.ConsolidatedExpenseInformation, error) {
	return expense.Review(rows)
}

// AddExpense stores a reviewed expense in a household the user belongs to.
// distributed, when given, maps member ids to their share of the total.
func (s *Service) AddExpense(ctx context.Context, user *identity.UserData, householdID string, info *expense.ConsolidatedExpenseInformation, distributed map[string]float64) (*expense.Expense, error) {
	household, err := s.requireMember(ctx, user.ID, householdID)
	if err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}
	for memberID, amount := range distributed {
		if !household.IsMember(memberID) {
			return nil, fmt.Errorf("%w: %s is not a member of the household", ErrInvalidInput, memberID)
		}
		if amount < 0 {
			return nil, fmt.Errorf("%w: distributed amounts cannot be negative", ErrInvalidInput)
		}
	}
	if len(distributed) == 0 {
		distributed = nil
	}

	e := &expense.Expense{
		ID:              s.idGenerator.Generate(),
		HouseholdID:     household.ID,
		Category:        info.Category,
		Total:           info.Total,
		Date:            info.Date,
		UserID:          user.ID,
		UserDisplayName: user.DisplayName,
		Note:            info.Note,
		Distributed:     distributed,
		CreatedAt:       s.timeSource.Now(),
	}
	if err := s.db.SaveExpense(ctx, e); err != nil {
		return nil, fmt.Errorf("saving expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns a household's expenses, newest date first
func (s *Service) ListExpenses(ctx context.Context, userID, householdID string) ([]*expense.Expense, error) {
	if _, err := s.requireMember(ctx, userID, householdID); err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}
	expenses, err := s.db.ListExpenses(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].Date.Equal(expenses[j].Date) {
			return expenses[i].Date.After(expenses[j].Date)
		}
		return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
	})
	return expenses, nil
}

// DeleteExpense removes one expense from a household the user belongs to
func (s *Service) DeleteExpense(ctx context.Context, userID, householdID, expenseID string) error {
	if _, err := s.requireMember(ctx, userID, householdID); err != nil {
		return fmt.Errorf("getting household: %w", err)
	}
	if err := s.db.DeleteExpense(ctx, householdID, expenseID); err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	return nil
}

// Now reports the service clock
func (s *Service) Now() time.Time {
	return s.timeSource.Now()
}

// MonthlyBreakdown summarises a household's spending for one month
func (s *Service) MonthlyBreakdown(ctx context.Context, userID, householdID string, year int, month time.Month) (*expense.MonthlyBreakdown, error) {
	if _, err := s.requireMember(ctx, userID, householdID); err != nil {
		return nil, fmt.Errorf("getting household: %w", err)
	}
	expenses, err := s.db.ListExpenses(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expense.Breakdown(expenses, year, month), nil
}
