package db

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/models"
)

func TestMySQLDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.DatabaseConfig
		want []string
	}{
		{
			name: "default local",
			cfg:  config.DatabaseConfig{Host: "127.0.0.1", Port: 3306, User: "root", Database: "jobscout"},
			want: []string{"root@tcp(127.0.0.1:3306)/jobscout", "parseTime=true", "charset=utf8mb4"},
		},
		{
			name: "with password",
			cfg:  config.DatabaseConfig{Host: "db", Port: 3307, User: "scout", Password: "pw", Database: "js"},
			want: []string{"scout:pw@tcp(db:3307)/js"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MySQLDSN(tt.cfg)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("MySQLDSN() = %q, want to contain %q", got, w)
				}
			}
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	if got := SQLiteDSN(":memory:"); got != ":memory:" {
		t.Errorf("SQLiteDSN(:memory:) = %q", got)
	}
	if got := SQLiteDSN("a.db"); !strings.HasPrefix(got, "a.db?") || !strings.Contains(got, "_busy_timeout") {
		t.Errorf("SQLiteDSN(a.db) = %q", got)
	}
}

func TestConnect_UnsupportedDriver(t *testing.T) {
	_, err := Connect(config.DatabaseConfig{Driver: "oracle"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Fatalf("err = %v, want unsupported driver", err)
	}
}

func TestAllModels(t *testing.T) {
	if got := len(AllModels()); got != 10 {
		t.Errorf("AllModels() returned %d models, want 10", got)
	}
}

func TestAutoMigrate_SQLite(t *testing.T) {
	gdb, err := Connect(config.DatabaseConfig{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "js.db")})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer Close(gdb)

	if err := AutoMigrate(gdb); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	for _, m := range AllModels() {
		if !gdb.Migrator().HasTable(m) {
			t.Errorf("table for %T not created", m)
		}
	}

	if err := gdb.Create(&models.ChatSession{ID: "s1", ThreadID: "t1"}).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := Reset(gdb); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	var n int64
	gdb.Model(&models.ChatSession{}).Count(&n)
	if n != 0 {
		t.Errorf("sessions after reset = %d, want 0", n)
	}
}
