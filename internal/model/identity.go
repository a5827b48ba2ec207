package model

// ClientIdentity identifies the caller for per-user token budgets. It is
// extracted per request from a JWT claim or an HTTP header, per config.
type ClientIdentity struct {
	ClientID string
	GroupID  string
}
