package stream

// Topics mirror the users/{uid} tree: one topic per user row plus a shared
// topic that changes whenever anyone's presence or marker data changes.
const OnlineUsersTopic = "online-users"

func UserTopic(uid string) string {
	return "user:" + uid
}

// DeviceTopic carries raw fixes reported by a user's device.
func DeviceTopic(uid string) string {
	return "device:" + uid
}

func TrackerTopic(uid string) string {
	return "tracker:" + uid
}

func ProfileTopic(uid string) string {
	return "profile:" + uid
}
