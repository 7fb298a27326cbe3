package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-checkout/app/auth"
	"github.com/vibast-solutions/ms-go-checkout/app/controller"
	checkoutgrpc "github.com/vibast-solutions/ms-go-checkout/app/grpc"
	appmiddleware "github.com/vibast-solutions/ms-go-checkout/app/middleware"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/config"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const healthRefreshInterval = 30 * time.Second

var corsAllowHeaders = []string{
	echo.HeaderAuthorization,
	"x-client-info",
	"apikey",
	echo.HeaderContentType,
	"x-supabase-client-platform",
	"x-supabase-client-platform-version",
	"x-supabase-client-runtime",
	"x-supabase-client-runtime-version",
	echo.HeaderXRequestID,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start the HTTP (Echo) checkout and webhook server together with the gRPC health server.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type httpControllers struct {
	checkout *controller.CheckoutController
	webhook  *controller.WebhookController
	orders   *controller.OrderController
}

func runServe(_ *cobra.Command, _ []string) {
	cfg := mustLoadConfig()
	db := mustOpenStores(context.Background(), cfg)
	defer db.close()

	nowPayments := provider.NewNOWPaymentsProvider(provider.NOWPaymentsConfig{
		APIURL:      cfg.NOWPayments.APIURL,
		APIKey:      cfg.NOWPayments.APIKey,
		IPNSecret:   cfg.NOWPayments.IPNSecret,
		HTTPTimeout: cfg.NOWPayments.HTTPTimeout,
	})
	if cfg.NOWPayments.IPNSecret == "" {
		logrus.Warn("NOWPAYMENTS_IPN_SECRET is empty, every IPN will be answered with 500")
	}

	controllers := &httpControllers{
		checkout: controller.NewCheckoutController(
			service.NewCheckoutService(db.restricted.orders, nowPayments, cfg.Checkout, cfg.App.PublicBaseURL),
		),
		webhook: controller.NewWebhookController(service.NewReconcileService(db.elevated.orders, nowPayments)),
		orders:  controller.NewOrderController(service.NewOrderService(db.elevated.orders, db.elevated.settlements)),
	}

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)
	userAuthMiddleware := auth.NewEchoUserMiddleware(auth.NewJWTIdentityResolver(auth.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		Audience: cfg.Auth.JWTAudience,
		Issuer:   cfg.Auth.JWTIssuer,
	}))

	e := setupHTTPServer(cfg, controllers, userAuthMiddleware, echoInternalAuthMiddleware)

	healthServer := checkoutgrpc.NewHealthServer(db.pings()...)
	grpcSrv, lis := setupGRPCServer(cfg, healthServer)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go healthServer.Watch(healthCtx, healthRefreshInterval)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	stopHealth()
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	cfg *config.Config,
	controllers *httpControllers,
	userAuthMiddleware *auth.EchoUserMiddleware,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(appmiddleware.RequestID())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"request_id": v.RequestID,
				"remote_ip":  v.RemoteIP,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: corsAllowHeaders,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	e.Use(echomiddleware.BodyLimit("1M"))

	e.GET("/health", controllers.orders.Health)

	e.POST(
		"/payments/invoice",
		controllers.checkout.CreateInvoice,
		appmiddleware.RateLimit(cfg.Checkout.RateLimitRPS, cfg.Checkout.RateLimitBurst),
		userAuthMiddleware.RequireUser(),
	)

	webhooks := e.Group("/webhooks")
	webhooks.POST("/nowpayments", controllers.webhook.HandleNOWPayments)

	internal := e.Group("/internal", internalAuthMiddleware.RequireInternalAccess(cfg.App.ServiceName))
	internal.GET("/orders", controllers.orders.ListOrders)

	return e
}

func setupGRPCServer(cfg *config.Config, healthServer *checkoutgrpc.HealthServer) (*grpc.Server, net.Listener) {
	grpcAddr := net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			checkoutgrpc.RecoveryInterceptor(),
			checkoutgrpc.RequestIDInterceptor(),
			checkoutgrpc.LoggingInterceptor(),
		),
	)
	healthServer.Register(grpcSrv)

	return grpcSrv, lis
}
