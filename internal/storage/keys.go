package storage

// Key layout. Every key is colon-delimited and scoped by its owner so that
// prefix listing retrieves exactly one user's or one project's records.

const (
	userPrefix      = "user:"
	projectPrefix   = "project:"
	feedPrefix      = "feed:"
	feedExtPrefix   = "feed_ext:"
	watermarkPrefix = "last_scan:"
	eventPrefix     = "event:"
)

// UserKey is user:{userId}
func UserKey(userID string) string {
	return userPrefix + userID
}

// ProjectKey is project:{userId}:{projectId}
func ProjectKey(userID, projectID string) string {
	return projectPrefix + userID + ":" + projectID
}

// ProjectPrefix lists every project of a user
func ProjectPrefix(userID string) string {
	return projectPrefix + userID + ":"
}

// FeedKey is feed:{projectId}:{itemId}
func FeedKey(projectID, itemID string) string {
	return feedPrefix + projectID + ":" + itemID
}

// FeedPrefix lists every feed item of a project
func FeedPrefix(projectID string) string {
	return feedPrefix + projectID + ":"
}

// FeedExternalKey is feed_ext:{projectId}:{externalId}, the dedup index
func FeedExternalKey(projectID, externalID string) string {
	return feedExtPrefix + projectID + ":" + externalID
}

// FeedExternalPrefix lists every index entry of a project
func FeedExternalPrefix(projectID string) string {
	return feedExtPrefix + projectID + ":"
}

// WatermarkKey is last_scan:{projectId}
func WatermarkKey(projectID string) string {
	return watermarkPrefix + projectID
}

// EventKey is event:{projectId}:{eventKey}
func EventKey(projectID, eventKey string) string {
	return eventPrefix + projectID + ":" + eventKey
}

// EventPrefix lists every event of a project
func EventPrefix(projectID string) string {
	return eventPrefix + projectID + ":"
}
