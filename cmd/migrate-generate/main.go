package main

import (
	"flag"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"ariga.io/atlas-provider-gorm/gormschema"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/deadletter"
)

// models are the tables the dialer owns.
func models() []any {
	return []any{
		&call.Record{},
		&deadletter.Letter{},
	}
}

func main() {
	dir := flag.String("dir", "migrations", "golang-migrate directory to write into")
	devURL := flag.String("dev-url", "docker://postgres/16-alpine/dev?search_path=public", "atlas dev database")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: migrate-generate [-dir migrations] [-dev-url url] <name>")
	}

	schema, err := gormschema.New("postgres").Load(models()...)
	if err != nil {
		log.Fatalf("failed to load gorm schema: %v", err)
	}

	schemaDir, err := os.MkdirTemp("", "dialer-schema-")
	if err != nil {
		log.Fatal(err)
	}

	defer func() {
		_ = os.RemoveAll(schemaDir)
	}()

	schemaFile := filepath.Join(schemaDir, "schema.sql")

	err = os.WriteFile(schemaFile, []byte(schema), 0o600)
	if err != nil {
		log.Fatal(err)
	}

	absDir, err := filepath.Abs(*dir)
	if err != nil {
		log.Fatal(err)
	}

	cmd := exec.Command(
		"atlas", "migrate", "diff", filepath.Base(flag.Arg(0)),
		"--to", "file://"+filepath.ToSlash(schemaFile),
		"--dev-url", *devURL,
		"--dir", "file://"+filepath.ToSlash(absDir)+"?format=golang-migrate",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err = cmd.Run()
	if err != nil {
		log.Fatalf("atlas migrate diff failed: %v", err)
	}
}
