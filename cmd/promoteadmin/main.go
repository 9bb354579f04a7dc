// The promoteadmin command grants admin rights to an existing user by
// username. It is a maintenance tool for operators locked out of the
// in-app user management, e.g. after the sole admin account was lost.
//
// Usage:
//
//	promoteadmin -u <username> [-d <database DSN>] [-f <db file>]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/mvoronova/golinks/internal/app"
	"github.com/mvoronova/golinks/internal/config"
	"github.com/mvoronova/golinks/internal/db/storage"
)

func run() error {
	username := flag.String("u", "", "username to promote to admin")

	cfg, err := config.New(config.WithDisableFlagsParsing(true))
	if err != nil {
		return err
	}
	flag.StringVar(&cfg.DatabaseDSN, "d", cfg.DatabaseDSN, "A string with the database connection details")
	flag.StringVar(&cfg.DBFileName, "f", cfg.DBFileName, "JSON file name with database")
	flag.Parse()

	if *username == "" {
		return fmt.Errorf("usage: %s -u <username>", os.Args[0])
	}

	db, err := app.GetStorageByType(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return promote(context.Background(), db, *username)
}

// promote grants admin rights by username. Promoting a user who is already
// an admin succeeds without a change; a missing user is an error.
func promote(ctx context.Context, db storage.Storage, username string) error {
	usr, found, err := db.FindUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("user %q not found", username)
	}

	if usr.IsAdmin {
		fmt.Printf("User %q is already an admin\n", username)
		return nil
	}

	if err := db.SetUserIsAdmin(ctx, usr.ID, true); err != nil {
		return err
	}

	fmt.Printf("Successfully promoted %q to admin\n", username)

	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
