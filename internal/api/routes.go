package api

const (
	HealthCheckRoute = "/healthz"
	AboutRoute       = "/about"

	// origin side
	GenerateTransferTokenRoute = "/api/auth/generate-transfer-token"

	// receiver side
	SessionAcceptRoute = "/session/accept"
	ExchangeTokenRoute = "/api/auth/exchange-token"

	AdminParent      = "/v1/admin/"
	ListTokensRoute  = AdminParent + "tokens"
	RevokeTokenRoute = AdminParent + "tokens/{id}/revoke"
	ListAuditsRoute  = AdminParent + "audits"

	TaskParent       = AdminParent + "tasks/"
	ListTasksRoute   = TaskParent
	TriggerTaskRoute = TaskParent + "{name}/trigger"
	LogsForTaskRoute = TaskParent + "{name}/logs"
)
