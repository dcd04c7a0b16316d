package server

const (
	RouteHealth = "/health"

	RouteTenantStart       = "/tenant/{id}/start"
	RouteTenantStatus      = "/tenant/{id}/status"
	RouteTenantQR          = "/tenant/{id}/qr"
	RouteTenantReset       = "/tenant/{id}/reset"
	RouteTenantDisconnect  = "/tenant/{id}/disconnect"
	RouteTenantDiagnostics = "/tenant/{id}/diagnostics"

	RouteSend       = "/send"
	RouteSendTyping = "/sendTyping"
)
