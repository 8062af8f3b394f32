package core

// PresenceGroup is the global group every connection joins for online and
// offline events.
const PresenceGroup = "presence"

// UserGroup names the group all of a user's connections join. Multi-device
// users have several members in the same group.
func UserGroup(userID string) string {
	return "user:" + userID
}
