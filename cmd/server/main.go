package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"univera-backend/internal/admin"
	"univera-backend/internal/auth"
	"univera-backend/internal/config"
	"univera-backend/internal/engine"
	"univera-backend/internal/record"
	"univera-backend/internal/schema"
	"univera-backend/internal/storage"
	"univera-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db: %s:%d/%s)", cfg.Server.Port, cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Create registry and load published schemas. Serving with an empty
	// registry would answer 404 for every previously published entity, so a
	// load failure is fatal. (Individual rows that no longer compile are
	// still skipped inside LoadAll.)
	reg := schema.NewRegistry()
	if err := schema.LoadAll(ctx, db.Pool, reg); err != nil {
		log.Fatalf("Failed to load schemas: %v", err)
	}

	// 5. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 6. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	authMW := auth.AuthMiddleware(cfg.JWTSecret)
	adminMW := auth.RequireAdmin()

	// 7. Auth routes (login/refresh open, user management admin-only)
	authHandler := auth.NewAuthHandler(db, cfg.JWTSecret)
	auth.RegisterAuthRoutes(app, authHandler, authMW, adminMW)

	// 8. Schema management routes (auth + admin required)
	schemaStore := schema.NewStore(db)
	adminHandler := admin.NewHandler(schemaStore, reg, db)
	admin.RegisterAdminRoutes(app, adminHandler, authMW, adminMW)

	// 9. File routes (auth required)
	fileStorage := storage.NewLocalStorage(cfg.Storage.LocalPath)
	fileHandler := engine.NewFileHandler(db, fileStorage, cfg.Storage.MaxFileSize)
	app.Post("/files/upload", authMW, fileHandler.Upload)
	app.Get("/files/:id", authMW, fileHandler.Serve)
	app.Delete("/files/:id", authMW, fileHandler.Delete)

	// 10. Report routes (auth required)
	reportHandler := engine.NewReportHandler(db, reg)
	app.Post("/reports/summary", authMW, reportHandler.Summary)

	// 11. Dynamic entity routes. Registered last so the static groups above
	// win over the /:entity parameter.
	records := record.NewStore(db, reg)
	engineHandler := engine.NewHandler(records, reg)
	engine.RegisterDynamicRoutes(app, engineHandler, authMW)

	// 12. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}

	var appErr *engine.AppError
	if errors.As(err, &appErr) {
		return c.Status(appErr.Status).JSON(engine.ErrorResponse{Error: appErr})
	}

	log.Printf("ERROR: %v", err)
	return c.Status(code).JSON(engine.ErrorResponse{
		Error: &engine.AppError{
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		},
	})
}
