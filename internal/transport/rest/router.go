package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"tandem/internal/cache"
	"tandem/internal/service"
	"tandem/internal/transport/rest/handler"
	"tandem/internal/transport/rest/middleware"
	"tandem/internal/transport/ws"
)

// Container holds all dependencies for the router.
type Container struct {
	AuthService     *service.AuthService
	MatchService    *service.MatchService
	SessionService  *service.SessionService
	ScheduleService *service.ScheduleService
	UsageGuard      cache.UsageGuard
	WSHub           *ws.Hub
}

// NewRouter creates the API router with all endpoints.
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	queueHandler := handler.NewQueueHandler(c.MatchService)
	sessionHandler := handler.NewSessionHandler(c.SessionService)
	adminHandler := handler.NewAdminHandler(c.ScheduleService, c.UsageGuard)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	r.Use(corsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/token", authHandler.Token).Methods("POST", "OPTIONS")

	// WebSocket route (token in query param)
	v1.HandleFunc("/ws", wsHandler.UserWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// User routes
	userRoutes := v1.NewRoute().Subrouter()
	userRoutes.Use(authMW.RequireUser)

	userRoutes.HandleFunc("/queue/join", queueHandler.Join).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/queue/leave", queueHandler.Leave).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/sessions/leave", sessionHandler.Leave).Methods("POST", "OPTIONS")
	userRoutes.HandleFunc("/status", queueHandler.Status).Methods("GET", "OPTIONS")

	// Admin routes
	adminRoutes := v1.NewRoute().Subrouter()
	adminRoutes.Use(authMW.RequireAdmin)

	adminRoutes.HandleFunc("/admin/override", adminHandler.SetOverride).Methods("POST", "OPTIONS")
	adminRoutes.HandleFunc("/admin/periods", adminHandler.ListPeriods).Methods("GET", "OPTIONS")
	adminRoutes.HandleFunc("/admin/periods", adminHandler.AddPeriod).Methods("POST", "OPTIONS")
	adminRoutes.HandleFunc("/admin/periods/{index}", adminHandler.RemovePeriod).Methods("DELETE", "OPTIONS")
	adminRoutes.HandleFunc("/admin/usage", adminHandler.Usage).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
