package expense

import (
	"sort"
	"time"
)

// CategoryTotal is the amount spent in one category
type CategoryTotal struct {
	Category    Category `json:"category"`
	DisplayName string   `json:"display_name"`
	Total       float64  `json:"total"`
	Share       float64  `json:"share"` // fraction of the month total, 0..1
	Count       int      `json:"count"`
}

// UserTotal is the amount one member submitted in the month
type UserTotal struct {
	UserID          string  `json:"user_id"`
	UserDisplayName string  `json:"user_display_name"`
	Total           float64 `json:"total"`
}

// MonthlyBreakdown summarises one calendar month of a household's spending
type MonthlyBreakdown struct {
	Year       int             `json:"year"`
	Month      time.Month      `json:"month"`
	Total      float64         `json:"total"`
	Count      int             `json:"count"`
	Categories []CategoryTotal `json:"categories"`
	Users      []UserTotal     `json:"users"`
}

// Breakdown aggregates the expenses dated in the given year and month.
// Expenses outside that month are ignored.
func Breakdown(expenses []*Expense, year int, month time.Month) *MonthlyBreakdown {
	b := &MonthlyBreakdown{
		Year:       year,
		Month:      month,
		Categories: make([]CategoryTotal, 0),
		Users:      make([]UserTotal, 0),
	}

	byCategory := make(map[Category]*CategoryTotal)
	byUser := make(map[string]*UserTotal)
	for _, e := range expenses {
		if e.Date.Year() != year || e.Date.Month() != month {
			continue
		}
		b.Total += e.Total
		b.Count++

		ct, ok := byCategory[e.Category]
		if !ok {
			ct = &CategoryTotal{Category: e.Category, DisplayName: e.Category.DisplayName()}
			byCategory[e.Category] = ct
		}
		ct.Total += e.Total
		ct.Count++

		ut, ok := byUser[e.UserID]
		if !ok {
			ut = &UserTotal{UserID: e.UserID, UserDisplayName: e.UserDisplayName}
			byUser[e.UserID] = ut
		}
		ut.Total += e.Total
	}

	for _, ct := range byCategory {
		if b.Total != 0 {
			ct.Share = ct.Total / b.Total
		}
		b.Categories = append(b.Categories, *ct)
	}
	sort.Slice(b.Categories, func(i, j int) bool {
		if b.Categories[i].Total != b.Categories[j].Total {
			return b.Categories[i].Total > b.Categories[j].Total
		}
		return b.Categories[i].DisplayName < b.Categories[j].DisplayName
	})

	for _, ut := range byUser {
		b.Users = append(b.Users, *ut)
	}
	sort.Slice(b.Users, func(i, j int) bool {
		if b.Users[i].Total != b.Users[j].Total {
			return b.Users[i].Total > b.Users[j].Total
		}
		return b.Users[i].UserID < b.Users[j].UserID
	})

	return b
}
