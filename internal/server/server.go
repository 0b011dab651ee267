package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/goingthrice/bidengine/internal/domain"
	"github.com/goingthrice/bidengine/internal/server/handler"
	"github.com/goingthrice/bidengine/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	APIKey       string // if empty, the admin endpoints answer 404
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// BidRateLimit bids per BidRateWindow per caller. Zero disables limiting.
	BidRateLimit  int
	BidRateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Bids     *handler.BidHandler
	Wallets  *handler.WalletHandler
	Auctions *handler.AuctionHandler
	Admin    *handler.AdminHandler
	// WS serves GET /ws. Nil disables realtime push on this instance.
	WS http.Handler
}

// Server is the HTTP + WebSocket API of the bidding engine.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on a ServeMux.
// verifier authenticates bearer tokens; limiter backs the bid rate limit and
// may be nil.
func NewServer(cfg Config, handlers Handlers, verifier middleware.TokenVerifier, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, handlers, verifier, limiter, logger),
			ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
			WriteTimeout: orDefault(cfg.WriteTimeout, 30*time.Second),
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Routes builds the full middleware-wrapped handler tree.
func Routes(cfg Config, handlers Handlers, verifier middleware.TokenVerifier, limiter domain.RateLimiter, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Bearer(verifier)
	bidLimit := middleware.RateLimit(limiter, "bids", cfg.BidRateLimit, cfg.BidRateWindow, logger)
	protected := func(fn http.HandlerFunc) http.Handler { return auth(fn) }

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Bid endpoints. The limiter runs after auth so callers are keyed by user.
	mux.Handle("POST /api/bids", auth(bidLimit(http.HandlerFunc(handlers.Bids.PlaceBid))))
	mux.Handle("GET /api/bids/history/{auction_id}", protected(handlers.Bids.History))
	mux.Handle("GET /api/bids/mine", protected(handlers.Bids.Mine))
	mux.Handle("GET /api/bids/winning", protected(handlers.Bids.Winning))

	// Wallet endpoints.
	mux.Handle("GET /api/wallet", protected(handlers.Wallets.GetWallet))
	mux.Handle("POST /api/wallet/deposit", protected(handlers.Wallets.Deposit))
	mux.Handle("POST /api/wallet/withdraw", protected(handlers.Wallets.Withdraw))
	mux.Handle("GET /api/wallet/transactions", protected(handlers.Wallets.Transactions))

	// Auction endpoints. Reads are public.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("GET /api/auctions/{id}", handlers.Auctions.GetAuction)
	mux.Handle("POST /api/auctions", protected(handlers.Auctions.CreateAuction))
	mux.Handle("POST /api/auctions/{id}/cancel", protected(handlers.Auctions.CancelAuction))

	// Operator endpoints.
	if handlers.Admin != nil {
		admin := middleware.APIKey(cfg.APIKey)
		mux.Handle("POST /api/admin/sweep", admin(http.HandlerFunc(handlers.Admin.TriggerSweep)))
		mux.Handle("GET /api/admin/settlements", admin(http.HandlerFunc(handlers.Admin.PendingSettlements)))
	}

	// WebSocket endpoint.
	if handlers.WS != nil {
		mux.Handle("GET /ws", auth(handlers.WS))
	}

	var h http.Handler = mux
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)
	return h
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
