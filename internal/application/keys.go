package application

import "github.com/oksasatya/homekeep/internal/cache"

// Cache keys. Invalidating a prefix marks every key below it stale.

func KeyCurrentHousehold(userID string) cache.Key { return cache.NewKey("household", "user", userID) }
func KeyHousehold(householdID string) cache.Key   { return cache.NewKey("households", householdID) }
func KeyMembers(householdID string) cache.Key {
	return cache.NewKey("households", householdID, "members")
}
func KeyLeaderboard(householdID string) cache.Key {
	return cache.NewKey("households", householdID, "leaderboard")
}
func KeyTasks(householdID string) cache.Key    { return cache.NewKey("tasks", householdID) }
func KeyMessages(householdID string) cache.Key { return cache.NewKey("messages", householdID) }
func KeyProfile(userID string) cache.Key       { return cache.NewKey("profile", userID) }

func sessionKey(userID string) string { return "user:session:" + userID }
