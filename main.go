package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/armonempire/portal/acuity"
	"github.com/armonempire/portal/config"
	"github.com/armonempire/portal/controllers"
	"github.com/armonempire/portal/cron"
	"github.com/armonempire/portal/db"
	"github.com/armonempire/portal/logger"
	"github.com/armonempire/portal/metrics"
	"github.com/armonempire/portal/middleware"
	"github.com/armonempire/portal/payments"
	"github.com/armonempire/portal/redis"
	"github.com/armonempire/portal/routes"
	"github.com/armonempire/portal/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.Init(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	gdb, err := db.Init(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	if *migrate {
		if err := db.Migrate(gdb, log); err != nil {
			log.Fatal("migration failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := redis.Connect(ctx, cfg.RedisAddr, log)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	defer rdb.Close()

	var photos utils.PhotoUploader
	cld, err := utils.NewCloudinary(utils.CloudinaryConfig{
		CloudName:    cfg.CloudinaryCloudName,
		APIKey:       cfg.CloudinaryAPIKey,
		APISecret:    cfg.CloudinaryAPISecret,
		UploadPreset: cfg.CloudinaryUploadPreset,
		Folder:       "photo-ids",
	})
	if err != nil {
		log.Warn("cloudinary disabled", zap.Error(err))
	} else if cld != nil {
		photos = cld
	}

	clock := clockwork.NewRealClock()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	portalMetrics := metrics.NewPortalMetrics(reg)

	members := db.NewMemberStore(gdb)
	appointments := db.NewAppointmentStore(gdb)
	broker := redis.NewBroker(rdb, log.Named("events"))
	mailer := utils.Mailer{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.EmailUser,
		Password: cfg.EmailPass,
	}

	acuityClient := acuity.NewClient(cfg.AcuityUserID, cfg.AcuityAPIKey)
	syncer := acuity.NewSyncer(acuityClient, members, appointments, broker, log.Named("acuity"))
	billing := payments.NewService(payments.NewStripeClient(cfg.StripeSecretKey), members, cfg.StripePrices(), log.Named("payments"), portalMetrics)

	authController := controllers.NewAuthController(members, redis.NewResetTokens(rdb), mailer, cfg.JWTSecret, cfg.AppURL, clock, log.Named("auth"))
	userController := controllers.NewUserController(members, photos, clock, log.Named("user"))
	appointmentController := controllers.NewAppointmentController(appointments, broker, syncer, cfg.AcuityAPIKey, portalMetrics, log.Named("appointments")).
		WithContext(ctx)
	stripeController := controllers.NewStripeController(billing, members, cfg.StripeWebhookSecret, clock, portalMetrics, log.Named("stripe"))

	app := fiber.New(fiber.Config{
		AppName:      "armon-empire-portal",
		BodyLimit:    10 << 20,
		ErrorHandler: middleware.ErrorHandler,
	})
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		sqlDB, err := gdb.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err == nil {
			err = rdb.Ping(c.UserContext()).Err()
		}
		if err != nil {
			log.Warn("health check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	routes.SetupAuthRoutes(app, authController, cfg.JWTSecret)
	routes.SetupUserRoutes(app, userController, members, cfg.JWTSecret)
	routes.SetupAppointmentRoutes(app, appointmentController, cfg.JWTSecret)
	routes.SetupStripeRoutes(app, stripeController, cfg.JWTSecret)

	scheduler, err := cron.StartCronJobs(&cron.Jobs{
		Members:      members,
		Appointments: appointments,
		Mailer:       mailer,
		Events:       broker,
		Timezone:     cfg.ShopTimezone,
		Clock:        clock,
		Metrics:      portalMetrics,
		Log:          log.Named("cron"),
	})
	if err != nil {
		log.Fatal("failed to start cron jobs", zap.Error(err))
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		<-scheduler.Stop().Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown failed", zap.Error(err))
		}
	}()

	log.Info("server starting", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
