package usercontext

// Shared Locals keys used across handlers and middlewares
const (
	KeyUserContext = "USER_CONTEXT"
	KeyUserID      = "user_id"
	KeyIsAdmin     = "isAdmin"
)

// Headers set by the gateway in front of the API.
const (
	HeaderUserID = "X-User-ID"
	HeaderAPIKey = "X-API-Key"
)
