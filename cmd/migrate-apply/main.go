package main

import (
	"errors"
	"flag"
	"log"
	"path/filepath"
	"strconv"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/config"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

const usage = "usage: migrate-apply [-dir migrations] up | down [steps] | version"

func main() {
	dir := flag.String("dir", "migrations", "golang-migrate directory to apply")
	flag.Parse()

	if flag.NArg() == 0 {
		log.Fatal(usage)
	}

	err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	absDir, err := filepath.Abs(*dir)
	if err != nil {
		log.Fatal(err)
	}

	migrator, err := migrate.New("file://"+filepath.ToSlash(absDir), database.GetURL())
	if err != nil {
		log.Fatalf("failed to open migrator: %v", err)
	}

	defer func() {
		sourceErr, dbErr := migrator.Close()
		if sourceErr != nil || dbErr != nil {
			log.Printf("failed to close migrator: source=%v db=%v", sourceErr, dbErr)
		}
	}()

	err = apply(migrator, flag.Args())
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatal(err)
	}

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Printf("no migration applied")

		return
	}

	if err != nil {
		log.Fatal(err)
	}

	log.Printf("schema at version %d (dirty=%v)", version, dirty)
}

func apply(migrator *migrate.Migrate, args []string) error {
	switch args[0] {
	case "up":
		return migrator.Up()
	case "down":
		steps := 1

		if len(args) > 1 {
			parsed, err := strconv.Atoi(args[1])
			if err != nil || parsed < 1 {
				log.Fatalf("invalid step count %q", args[1])
			}

			steps = parsed
		}

		return migrator.Steps(-steps)
	case "version":
		return nil
	default:
		log.Fatal(usage)

		return nil
	}
}
