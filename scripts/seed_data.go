//go:build ignore

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/config"
	"github.com/aditya/campus-rides/internal/database"
	"github.com/aditya/campus-rides/internal/logging"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/repository"
)

// Seeded accounts share this password. scripts/loadtest.go signs in with it.
const seedPassword = "password123"

var (
	firstNames = []string{"Rahul", "Priya", "Amit", "Sneha", "Vikram", "Anita", "Raj", "Neha", "Suresh", "Kavita",
		"Arun", "Deepa", "Kiran", "Meera", "Sanjay", "Ritu", "Vijay", "Pooja", "Manoj", "Swati"}
	vehicles = []string{"Auto", "Auto", "E-Rickshaw", "Car"}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, database.PostgresOptions{
		URL:          cfg.DatabaseURL,
		MaxOpenConns: cfg.DBMaxConnections,
		MaxIdleConns: cfg.DBMaxIdleConnections,
		Migrate:      true,
	})
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	users := repository.NewUserRepository(db.DB)
	authSvc := auth.NewService(users, nil, auth.Config{Secret: cfg.JWTSecret}, logger)

	students := 0
	for i := 0; i < 50; i++ {
		_, err := authSvc.SignUp(ctx, &models.SignUpRequest{
			Email:    fmt.Sprintf("student%d@seed.campus.edu", i),
			Password: seedPassword,
			Role:     models.RoleStudent,
			Name:     firstNames[rand.Intn(len(firstNames))],
		})
		if err != nil {
			logger.Warn("failed to create student", "index", i, "error", err)
			continue
		}
		students++
	}

	drivers, verified := 0, 0
	for i := 0; i < 20; i++ {
		id, err := authSvc.SignUp(ctx, &models.SignUpRequest{
			Email:    fmt.Sprintf("driver%d@seed.campus.edu", i),
			Password: seedPassword,
			Role:     models.RoleDriver,
			Name:     firstNames[rand.Intn(len(firstNames))],
			Vehicle:  vehicles[rand.Intn(len(vehicles))],
			Phone:    fmt.Sprintf("98%08d", rand.Intn(100000000)),
		})
		if err != nil {
			logger.Warn("failed to create driver", "index", i, "error", err)
			continue
		}
		drivers++

		// Every fourth driver stays under review.
		if i%4 == 3 {
			continue
		}
		if err := users.SetVerified(ctx, id.Profile.ID, true); err != nil {
			logger.Warn("failed to verify driver", "driver_id", id.Profile.ID, "error", err)
			continue
		}
		verified++
	}

	fmt.Println("=== Seed Data Summary ===")
	fmt.Printf("Students created: %d\n", students)
	fmt.Printf("Drivers created:  %d (%d verified)\n", drivers, verified)
	fmt.Printf("Sign in as student0@seed.campus.edu or driver0@seed.campus.edu with %q\n", seedPassword)
}
