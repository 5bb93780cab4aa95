// Command seed creates the first administrator account, or promotes an
// existing account with the same phone number.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/example/kioskshop/pkg/auth"
	"github.com/example/kioskshop/pkg/config"
	"github.com/example/kioskshop/pkg/logger"
	"github.com/example/kioskshop/pkg/models"
	"github.com/example/kioskshop/pkg/repository"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	name := flag.String("name", "Administrator", "display name")
	phone := flag.String("phone", "", "phone number used to log in")
	password := flag.String("password", os.Getenv("KIOSK_SEED_PASSWORD"), "password (defaults to $KIOSK_SEED_PASSWORD)")
	country := flag.String("country", string(models.CountryIraq), "Iraq or Syria")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	db, err := repository.NewMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to open MySQL", zap.Error(err))
	}
	defer repository.CloseDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	svc := auth.NewService(db, nil, cfg.Auth, log)
	admin, err := svc.BootstrapAdmin(ctx, auth.RegisterInput{
		Name:     *name,
		Phone:    *phone,
		Password: *password,
		Country:  models.Country(*country),
	})
	if err != nil {
		log.Fatal("Failed to seed administrator", zap.Error(err))
	}

	log.Info("Administrator ready",
		zap.String("user_id", admin.ID),
		zap.String("phone", admin.Phone))
}
