package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/nrednav/cuid2"
	"github.com/prometheus/client_golang/prometheus"
	"uk.co.dudmesh.roost/internal/boot"
	"uk.co.dudmesh.roost/internal/cache"
	"uk.co.dudmesh.roost/internal/delivery"
	"uk.co.dudmesh.roost/internal/directory"
	"uk.co.dudmesh.roost/internal/handlers"
	"uk.co.dudmesh.roost/internal/presence"
	"uk.co.dudmesh.roost/internal/service/messaging"
	"uk.co.dudmesh.roost/internal/store"
	"uk.co.dudmesh.roost/internal/transport"
)

type Directory interface {
	store.ListingLookup
	delivery.AddressBook
}

type config struct {
	boot.Config
	db        *sqlx.DB
	redis     *redis.Client
	directory Directory
	presence  presence.Registry
	cache     cache.Cache
	closers   []func() error
}

func (c *config) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Errorf("closing: %+v", err)
		}
	}
}

func newConfig(bootConfig *boot.Config) (*config, error) {
	c := &config{Config: *bootConfig}

	db, err := store.Open(bootConfig.Database.Driver, bootConfig.Database.URL)
	if err != nil {
		return nil, err
	}
	c.db = db
	c.closers = append(c.closers, db.Close)

	if bootConfig.ListingsFile != "" {
		files, err := directory.NewFile(bootConfig.ListingsFile)
		if err != nil {
			c.Close()
			return nil, err
		}
		if bootConfig.IsDevelopment() {
			if err := files.Watch(); err != nil {
				log.Warnf("not watching %s: %+v", bootConfig.ListingsFile, err)
			}
		}
		c.directory = files
		c.closers = append(c.closers, files.Close)
	} else {
		tables, err := directory.NewSQL(db)
		if err != nil {
			c.Close()
			return nil, err
		}
		if bootConfig.DirectorySeed != "" {
			if err := seed(tables, bootConfig.DirectorySeed); err != nil {
				c.Close()
				return nil, err
			}
		}
		c.directory = tables
	}

	if bootConfig.UsesRedis() {
		options, err := redis.ParseURL(bootConfig.Redis.URL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.redis = redis.NewClient(options)
		c.closers = append(c.closers, c.redis.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.redis.Ping(ctx).Err(); err != nil {
			c.Close()
			return nil, err
		}
		hostname, _ := os.Hostname()
		c.presence = presence.NewRedis(c.redis, hostname+"-"+cuid2.Generate(), bootConfig.Redis.PresenceTTL)
		c.cache = cache.NewRedis(c.redis, bootConfig.Redis.CacheTTL)
	} else {
		c.presence = presence.NewMemory()
		local, err := cache.NewSQLite(bootConfig.Redis.CacheTTL)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.cache = local
	}
	c.closers = append(c.closers, c.cache.Close)

	// cached views are JSON in the shape of this build; a shared cache may hold
	// entries written by a previous release
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, name := range []string{cache.Conversations, cache.UnreadCounts} {
		if err := c.cache.InvalidateAll(ctx, name); err != nil {
			log.Warnf("dropping cached %s: %+v", name, err)
		}
	}

	return c, nil
}

type seeder interface {
	Seed(ctx context.Context, fixture *directory.Fixture) error
}

func seed(tables seeder, path string) error {
	fixture, err := directory.ReadFixture(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := tables.Seed(ctx, fixture); err != nil {
		return err
	}
	log.Infof("seeded %d listings and %d users from %s", len(fixture.Listings), len(fixture.Users), path)
	return nil
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warnf("reading .env: %+v", err)
	}

	bootConfig, err := boot.Load()
	if err != nil {
		log.Fatalf("boot: %+v", err)
	}

	config, err := newConfig(bootConfig)
	if err != nil {
		log.Fatalf("wiring: %+v", err)
	}
	defer config.Close()

	svc := messaging.New(
		store.NewConversations(config.db, config.directory),
		store.NewMessages(config.db),
		config.directory,
		config.presence,
		config.cache,
	)
	hub := transport.NewHub(prometheus.DefaultRegisterer)
	router := delivery.NewRouter(svc, config.presence, config.directory, hub, config.ReplayLimit, prometheus.DefaultRegisterer)
	hub.SetLifecycle(router)

	server := echo.New()
	server.Use(middleware.BodyLimit("1M"))
	server.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: func() string {
			return cuid2.Generate()
		},
	}))
	server.Use(echoprometheus.NewMiddleware("roost"))
	server.Use(middleware.Recover())

	if config.IsProduction() {
		server.Logger.SetLevel(log.INFO)
	} else {
		server.Logger.SetLevel(log.DEBUG)
	}
	server.HTTPErrorHandler = handlers.ErrorHandler(server)

	headers := []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderXRequestID}
	server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     config.AllowedOrigins(),
		AllowHeaders:     headers,
		AllowCredentials: true,
	}))

	handlers.Register(server, svc, router, hub, handlers.Options{
		Secret:  []byte(config.Auth.JWTSecret),
		Origins: config.AllowedOrigins(),
	})

	go func() {
		metrics := echo.New()
		metrics.HideBanner = true
		metrics.GET("/metrics", echoprometheus.NewHandler())
		if err := metrics.Start(":" + config.Server.MetricsPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	go func() {
		if err := server.Start(":" + config.Server.Port); err != nil && err != http.ErrServerClosed {
			server.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		server.Logger.Fatal(err)
	}
}
