package entity

import "time"

// Household groups users sharing tasks, chat and a leaderboard.
type Household struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"invite_code"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Membership links a user to a household. A user's current household is the
// one with the earliest membership.
type Membership struct {
	ID          string    `json:"id"`
	HouseholdID string    `json:"household_id"`
	UserID      string    `json:"user_id"`
	Role        Role      `json:"role"`
	Points      int       `json:"points"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a membership joined with the user's public profile.
type Member struct {
	Membership
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// LeaderboardEntry is one ranked row of the household leaderboard.
type LeaderboardEntry struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
	Points    int    `json:"points"`
}
