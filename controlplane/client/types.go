package client

// Action names used in routes and responses.
const (
	ActionSnapshot   = "snapshot"
	ActionRestore    = "restore"
	ActionClearCache = "clear-cache"
)

// SnapshotResponse is returned by POST /snapshot/:suiteId/:name.
type SnapshotResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	SuiteID string `json:"suiteId"`
	Name    string `json:"name"`
}

// RestoreResponse is returned by POST /restore/:suiteId/:name.
type RestoreResponse struct {
	Success     bool   `json:"success"`
	Action      string `json:"action"`
	SuiteID     string `json:"suiteId"`
	Name        string `json:"name"`
	AppURL      string `json:"appUrl"`
	DatabaseURL string `json:"databaseUrl"`
}

// ClearCacheResponse is returned by POST /clear-cache/:suiteId.
type ClearCacheResponse struct {
	Success bool   `json:"success"`
	Action  string `json:"action"`
	SuiteID string `json:"suiteId"`
	AppURL  string `json:"appUrl"`
}

// SuiteInfo describes one suite in GET /suites.
type SuiteInfo struct {
	SuiteID     string `json:"suiteId"`
	AppURL      string `json:"appUrl,omitempty"`
	DatabaseURL string `json:"databaseUrl"`
}

// SuitesResponse is returned by GET /suites.
type SuitesResponse struct {
	Suites []SuiteInfo `json:"suites"`
}
