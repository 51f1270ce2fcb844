package domain

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// TurnSource identifies which path produced the assistant message.
type TurnSource string

const (
	TurnSourceLocal TurnSource = "local"
	TurnSourceCache TurnSource = "cache"
	TurnSourceModel TurnSource = "model"
)

// Intent is the cheap pre-classification of an inbound message.
type Intent string

const (
	IntentGreeting   Intent = "greeting"
	IntentFarewell   Intent = "farewell"
	IntentSpam       Intent = "spam"
	IntentOutOfScope Intent = "out_of_scope"
	IntentBusiness   Intent = "business"
)
