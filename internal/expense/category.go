package expense

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is the fixed set of spending categories an expense can belong to
type Category string

const (
	CategoryHome          Category = "HOME"
	CategoryGroceries     Category = "GROCERIES"
	CategoryRestaurants   Category = "RESTAURANTS"
	CategoryTransport     Category = "TRANSPORT"
	CategoryUtilities     Category = "UTILITIES"
	CategoryHealth        Category = "HEALTH"
	CategoryEntertainment Category = "ENTERTAINMENT"
	CategoryShopping      Category = "SHOPPING"
	CategoryTravel        Category = "TRAVEL"
	CategoryOther         Category = "OTHER"
)

// Categories lists every category in display order
var Categories = []Category{
	CategoryHome,
	CategoryGroceries,
	CategoryRestaurants,
	CategoryTransport,
	CategoryUtilities,
	CategoryHealth,
	CategoryEntertainment,
	CategoryShopping,
	CategoryTravel,
	CategoryOther,
}

var displayNames = map[Category]string{
	CategoryHome:          "Home",
	CategoryGroceries:     "Groceries",
	CategoryRestaurants:   "Restaurants",
	CategoryTransport:     "Transport",
	CategoryUtilities:     "Utilities",
	CategoryHealth:        "Health",
	CategoryEntertainment: "Entertainment",
	CategoryShopping:      "Shopping",
	CategoryTravel:        "Travel",
	CategoryOther:         "Other",
}

// DisplayName returns the human readable name shown in review forms
func (c Category) DisplayName() string {
	if name, ok := displayNames[c]; ok {
		return name
	}
	return string(c)
}

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	_, ok := displayNames[c]
	return ok
}

// CategoryFromDisplayName resolves a display name (e.g. "Home") to its category.
// Matching is exact after trimming surrounding whitespace.
func CategoryFromDisplayName(name string) (Category, bool) {
	name = strings.TrimSpace(name)
	for _, c := range Categories {
		if displayNames[c] == name {
			return c, true
		}
	}
	return "", false
}

// ParseCategory accepts either the enum value ("HOME") or the display name ("Home")
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if c := Category(strings.ToUpper(s)); c.Valid() {
		return c, nil
	}
	if c, ok := CategoryFromDisplayName(s); ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// UnmarshalJSON rejects category values outside the fixed set
func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding category: %w", err)
	}
	parsed, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
