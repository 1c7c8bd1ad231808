package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/core/services"
	httphandlers "github.com/dench47/messenger-client-sub000/internal/handlers/http"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/media"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/repositories"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/rest"
	signaldispatch "github.com/dench47/messenger-client-sub000/internal/infrastructure/signal"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/stomp"
	webrtcinfra "github.com/dench47/messenger-client-sub000/internal/infrastructure/webrtc"
	"github.com/dench47/messenger-client-sub000/pkg/circuitbreaker"
	"github.com/dench47/messenger-client-sub000/pkg/config"
	"github.com/dench47/messenger-client-sub000/pkg/logger"
	"github.com/dench47/messenger-client-sub000/pkg/tracing"

	"github.com/gin-gonic/gin"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/messenger/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tracerProvider, err := tracing.Init(tracing.Config{
			Enabled:     true,
			ServiceName: "messenger-client",
			JaegerURL:   cfg.Tracing.JaegerURL,
			Environment: "production",
			SampleRate:  1.0,
		})
		if err != nil {
			log.Warnw("failed to initialize tracing", "error", err)
		} else {
			defer tracerProvider.Shutdown(context.Background())
		}
	}

	// Initialize repository factory
	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()
	messageRepo := repoFactory.CreateMessageRepository()

	// Initialize monitoring
	metrics := monitoring.NewCollector()

	// Initialize REST client and auth
	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig())
	restClient := rest.NewClient(rest.Config{
		BaseURL: cfg.Server.BaseURL,
		Timeout: cfg.Server.Timeout,
	}, breaker, log)
	authService := services.NewAuthService(restClient, log)

	username := os.Getenv("MESSENGER_USERNAME")
	password := os.Getenv("MESSENGER_PASSWORD")
	if username == "" || password == "" {
		log.Fatalw("MESSENGER_USERNAME and MESSENGER_PASSWORD must be set")
	}

	loginCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.Timeout)
	session, err := authService.Login(loginCtx, username, password)
	cancel()
	if err != nil {
		log.Fatalw("login failed", "username", username, "error", err)
	}

	// Initialize the push channel
	channel := stomp.NewChannel(stomp.Config{
		URL:           cfg.Signal.URL,
		HandshakeWait: cfg.Signal.HandshakeWait,
		WriteTimeout:  cfg.Signal.WriteTimeout,
		SendRate:      cfg.Signal.SendRate,
		SendBurst:     cfg.Signal.SendBurst,
	}, metrics, log)

	// Initialize chat pipeline
	reconciler := services.NewReconciler(messageRepo, metrics, log)
	chatService := services.NewChatService(authService, channel, restClient, reconciler, log)
	channel.SetMessageListener(chatService.HandleInbound)

	// Initialize call pipeline
	dispatcher := signaldispatch.NewDispatcher(channel, session.Username, metrics, log)
	engine := webrtcinfra.NewPionEngine(log)
	quality := webrtcinfra.NewQualityMonitor(metrics, log)
	permissions := media.NewStaticPermissions(true, cfg.Media.AllowVideo)

	var iceServers []ports.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, ports.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		// Fallback STUN server if not configured
		iceServers = []ports.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	callService := services.NewCallCoordinator(
		authService,
		dispatcher,
		engine,
		permissions,
		quality,
		metrics,
		services.CallConfig{
			ICEServers: iceServers,
			Audio: ports.AudioConstraints{
				EchoCancellation: cfg.Media.EchoCancellation,
				AutoGainControl:  cfg.Media.AutoGainControl,
				NoiseSuppression: cfg.Media.NoiseSuppression,
				HighPassFilter:   cfg.Media.HighPassFilter,
			},
			OfferWait:    cfg.Call.OfferWait,
			AbandonGrace: cfg.Call.AbandonGrace,
			InitTimeout:  cfg.Call.InitTimeout,
		},
		log,
	)

	// Route inbound signals: an offer with no session running launches an
	// incoming call with the offer pre-supplied; everything else goes to the
	// active call's dispatcher.
	channel.SetSignalListener(func(sig domain.CallSignal) {
		if sig.Type == domain.SignalOffer {
			if state := callService.State(); state == domain.CallIdle || state == domain.CallEnded {
				params := domain.CallParams{
					Kind:      domain.CallKindAudio,
					Peer:      sig.From,
					Direction: domain.DirectionIncoming,
					OfferSDP:  sig.Description.SDP,
					OfferType: sig.Description.Type,
				}
				go func() {
					if err := callService.Start(context.Background(), params); err != nil {
						log.Errorw("failed to start incoming call", "peer", params.Peer, "error", err)
					}
				}()
				return
			}
		}
		dispatcher.HandleInbound(sig)
	})

	// Reconnect loop. The channel itself never reconnects; the daemon reacts
	// to the closed transport here.
	reconnect := make(chan struct{}, 1)
	channel.SetClosedListener(func(err error) {
		log.Warnw("push channel closed", "error", err)
		select {
		case reconnect <- struct{}{}:
		default:
		}
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connect := func() {
		if err := authService.EnsureFresh(rootCtx, 30*time.Second); err != nil {
			log.Warnw("token refresh before connect failed", "error", err)
		}
		current := authService.Current()
		if err := channel.Connect(rootCtx, current.Token, current.Username); err != nil {
			log.Errorw("channel connect failed", "error", err)
			select {
			case reconnect <- struct{}{}:
			default:
			}
		}
	}
	connect()

	go func() {
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-reconnect:
				select {
				case <-rootCtx.Done():
					return
				case <-time.After(cfg.Signal.ReconnectDelay):
				}
				log.Infow("reconnecting push channel")
				connect()
			}
		}
	}()

	// Local status server
	var statusServer *http.Server
	if cfg.Status.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(gin.Recovery())
		router.Use(httphandlers.RequestLogger(logger.NewContextLogger(zapLogger)))
		statusHandler := httphandlers.NewStatusHandler(authService, channel, callService, repoFactory, metrics)
		statusHandler.SetupRoutes(router)

		statusServer = &http.Server{Addr: cfg.Status.Address, Handler: router}
		go func() {
			log.Infow("status server listening", "address", cfg.Status.Address)
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("status server failed", "error", err)
			}
		}()
	}

	log.Infow("messenger client running", "username", session.Username)
	<-rootCtx.Done()

	log.Info("shutting down")
	if callService.State() == domain.CallActive {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := callService.End(endCtx); err != nil {
			log.Warnw("failed to end active call", "error", err)
		}
		cancel()
	}
	channel.Disconnect()
	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("status server shutdown failed", "error", err)
		}
		cancel()
	}
	engine.Release()
}
