// Package api implements the JSON-over-HTTP wire protocol (§6): a
// gorilla/mux router for the Captain's endpoints (chore submission,
// sailor registration/heartbeat/reporting, user/crew listing, login) and
// a second router for the Sailor's captain-facing endpoints (launch,
// cancel). Each request is decoded and validated with
// go-playground/validator against the struct tags in pkg/types/wire.go,
// then dispatched into pkg/captain or pkg/sailor. Handlers that must
// observe §5's ordering guarantee (submit, sailor_register,
// sailor_awake) trigger a synchronous scheduler.Assign before
// responding.
package api
