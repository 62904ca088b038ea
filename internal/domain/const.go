package domain

const (
	RequesterIdCtxKey = "aswan-requesterId"
)

const (
	ModuleGateway  = "gateway"
	ModuleRegistry = "registry"
	ModuleRest     = "rest"
	ModuleSignal   = "signal"
	ModuleDecision = "decision"
	ModuleSocket   = "socket"
)
