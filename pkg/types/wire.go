package types

// Wire request/response bodies for the endpoints in §6. Field names
// preserve exact wire compatibility with the original source.

// PreregRequest is the body of POST /prereg.
type PreregRequest struct {
	Name     string   `json:"name" validate:"required"`
	IP       string   `json:"ip" validate:"required"`
	Services []string `json:"services"`
	MaxTime  string   `json:"max_time,omitempty"`
}

// RegisterRequest is the body of POST /sailor_register.
type RegisterRequest struct {
	Name string `json:"name" validate:"required"`
	IP   string `json:"ip" validate:"required"`
	Port int    `json:"port" validate:"required"`
	CPUs int    `json:"cpus"`
	GPUs []GPU  `json:"gpus"`
	RAM  int64  `json:"ram"`
}

// AwakeRequest is the body of POST /sailor_awake.
type AwakeRequest struct {
	Name string `json:"name" validate:"required"`
}

// ReportRequest is the body of POST /sailor_report.
type ReportRequest struct {
	Name     string      `json:"name" validate:"required"`
	ChoreID  string      `json:"chore_id" validate:"required"`
	Status   ChoreStatus `json:"status" validate:"required"`
	ExitCode *int        `json:"exit_code,omitempty"`
}

// SubmitChoreRequest is the body of POST /user_chore.
type SubmitChoreRequest struct {
	Script    string    `json:"script" validate:"required"`
	Service   string    `json:"service,omitempty"`
	Resources Resources `json:"ressources"`
	Owner     FlexInt   `json:"owner" validate:"required"`
}

// SubmitChoreResponse is the response of POST /user_chore.
type SubmitChoreResponse struct {
	OK      bool   `json:"ok"`
	ChoreID string `json:"chore_id,omitempty"`
}

// CancelChoreRequest is the body of POST /user_cancel.
type CancelChoreRequest struct {
	ChoreID string `json:"chore_id" validate:"required"`
	Reason  string `json:"reason,omitempty"`
}

// UpsertUserRequest is the body of POST /user_upsert.
type UpsertUserRequest struct {
	UID         FlexInt  `json:"uid" validate:"required"`
	Name        string   `json:"name,omitempty"`
	TimeLimit   string   `json:"time_limit,omitempty"`
	ChoresLimit *FlexInt `json:"chores_limit,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is the response of POST /login.
type LoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// SailorView is the /crew listing shape: a sailor record enriched with
// derived status and seen_ago.
type SailorView struct {
	Sailor
	Status  SailorStatus `json:"status"`
	SeenAgo int64        `json:"seen_ago"`
}

// LaunchRequest is the body of POST /captain_request (captain -> sailor).
type LaunchRequest struct {
	ChoreID   string    `json:"chore_id" validate:"required"`
	Script    string    `json:"script" validate:"required"`
	Resources Resources `json:"ressources"`
	Owner     int       `json:"owner" validate:"required"`
	WD        string    `json:"wd,omitempty"`
	Out       string    `json:"out,omitempty"`
}

// CancelRequest is the body of POST /captain_cancel (captain -> sailor).
type CancelRequest struct {
	ChoreID string `json:"chore_id" validate:"required"`
}

// OKResponse is a generic {ok: true/false} acknowledgement.
type OKResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
