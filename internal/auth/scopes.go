package auth

// Known OAuth scopes accepted by the API.
const (
	ScopeActivitiesWrite = "activities:write"
	ScopeActivitiesRead  = "activities:read"
	ScopeStreaksRead     = "streaks:read"
)

// AllScopes lists every scope, for tokens minted by local tooling.
var AllScopes = []string{ScopeActivitiesWrite, ScopeActivitiesRead, ScopeStreaksRead}
