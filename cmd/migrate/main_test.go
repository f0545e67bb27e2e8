package main

import (
	"testing"

	"github.com/wolfman30/chatlink/migrations"
	"github.com/wolfman30/chatlink/pkg/logging"
)

func TestRunRequiresDatabaseURL(t *testing.T) {
	if err := run(nil, "", logging.New("error")); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := migrations.FS.ReadDir(".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	for _, want := range []string{"0001_init.up.sql", "0001_init.down.sql"} {
		if !names[want] {
			t.Fatalf("missing %s in %v", want, names)
		}
	}
}
