package protocol

// HELLO (client -> server). Either Variant starts a new game or Auth.Token
// reattaches to a live one.
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	ClientName      string     `json:"client_name,omitempty"`
	Variant         string     `json:"variant,omitempty"`
	Seed            *int64     `json:"seed,omitempty"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	ResumeToken     string   `json:"resume_token"`
	Variant         string   `json:"variant"`
	CatalogDigest   string   `json:"catalog_digest"`
	TickIntervalMs  int      `json:"tick_interval_ms"`
	Resumed         bool     `json:"resumed,omitempty"`
	Variants        []string `json:"variants,omitempty"`
}

// STATE (server -> client): the full game snapshot after a tick.
type StateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	State           any    `json:"state"`
}

// INTENT (client -> server)
type IntentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
	ReqID           string `json:"req_id,omitempty"`
	Kind            string `json:"kind"`
	Resource        string `json:"resource,omitempty"`
	Structure       string `json:"structure,omitempty"`
	ContractID      string `json:"contract_id,omitempty"`
}

// RESULT (server -> client): outcome of one INTENT.
type ResultMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id,omitempty"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
	Tick            uint64 `json:"tick"`
	Result          any    `json:"result,omitempty"`
}

// ERROR (server -> client): a connection-level failure, usually followed by close.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
