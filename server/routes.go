package server

func (s *Server) initRoutes() {
	// Liveness probe, unauthenticated
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())

	// Session lifecycle
	s.RegisterRouteHandler("POST "+RouteTenantStart, ChainMiddleware(s.StartHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteTenantStatus, ChainMiddleware(s.StatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteTenantQR, ChainMiddleware(s.PairingCodeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteTenantReset, ChainMiddleware(s.ResetHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteTenantDisconnect, ChainMiddleware(s.DisconnectHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteTenantDiagnostics, ChainMiddleware(s.DiagnosticsHandler(), s.APIMiddleware()...))

	// Outbound traffic
	s.RegisterRouteHandler("POST "+RouteSend, ChainMiddleware(s.SendHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteSendTyping, ChainMiddleware(s.SendTypingHandler(), s.APIMiddleware()...))
}
