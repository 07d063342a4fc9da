package expense

import "time"

// Expense is one spending record stored under a household
type Expense struct {
	ID              string             `json:"id" firestore:"id"`
	HouseholdID     string             `json:"household_id" firestore:"householdId"`
	Category        Category           `json:"category" firestore:"category"`
	Total           float64            `json:"total" firestore:"total"`
	Date            time.Time          `json:"date" firestore:"date"`
	UserID          string             `json:"user_id" firestore:"userId"`
	UserDisplayName string             `json:"user_display_name" firestore:"userDisplayName"`
	Note            string             `json:"note" firestore:"note"`
	Distributed     map[string]float64 `json:"distributed,omitempty" firestore:"distributed,omitempty"` // user id -> share of the total
	CreatedAt       time.Time          `json:"created_at" firestore:"createdAt"`
}

// ConsolidatedExpenseInformation is the validated result of reviewing a suggestion
type ConsolidatedExpenseInformation struct {
	Category Category  `json:"category"`
	Total    float64   `json:"total"`
	Date     time.Time `json:"date"`
	Note     string    `json:"note"`
}
