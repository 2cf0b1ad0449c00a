package seedr

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"gopkg.in/yaml.v3"

	"github.com/leahtara/mispCacheExporter/internal/mispcache/config"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/ioc"
	"github.com/leahtara/mispCacheExporter/internal/mispcache/source"
)

// ------------------- Config -------------------

// SeedConfig describes the synthetic-data configuration parsed from YAML
type SeedConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	Seed               int64 `yaml:"seed"`
	Events             int   `yaml:"events"`
	AttributesPerEvent int   `yaml:"attributesPerEvent"`
	// MaxAgeHours spreads attribute timestamps over the trailing window,
	// so some rows land inside a 24h lookback and some outside it.
	MaxAgeHours int `yaml:"maxAgeHours"`
}

// readSeedConfig parses the YAML seed config
func readSeedConfig(path string) (SeedConfig, error) {
	var cfg SeedConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ------------------- Entry Point -------------------

// Run populates a MISP-shaped source database with synthetic events and
// attributes for local testing of the extractor.
func Run(configPath *string) {
	cfg, err := readSeedConfig(*configPath)
	if err != nil {
		log.Fatalf("[FATAL] error loading seed config: %v", err)
	}

	// Defaults
	if cfg.Driver == "" {
		cfg.Driver = "mysql"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		if cfg.Driver == "postgres" {
			cfg.Port = 5432
		} else {
			cfg.Port = 3306
		}
	}
	if cfg.Events == 0 {
		cfg.Events = 20
	}
	if cfg.AttributesPerEvent == 0 {
		cfg.AttributesPerEvent = 10
	}
	if cfg.MaxAgeHours == 0 {
		cfg.MaxAgeHours = 48
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)

	log.Printf("[INFO] Seeding driver=%s db=%s events=%d attrs/event=%d seed=%d",
		cfg.Driver, cfg.Database, cfg.Events, cfg.AttributesPerEvent, seed)

	dsn := source.BuildDSN(config.DatabaseCfg{
		Driver: cfg.Driver, Host: cfg.Host, Port: cfg.Port,
		User: cfg.User, Password: cfg.Password, Name: cfg.Database,
	})
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		log.Fatalf("[FATAL] connect failed: %v", err)
	}
	defer db.Close()

	if err := ensureTables(db, cfg.Driver); err != nil {
		log.Fatalf("[FATAL] create tables failed: %v", err)
	}

	inserted := 0
	for i := 0; i < cfg.Events; i++ {
		n, err := insertEvent(db, cfg)
		if err != nil {
			log.Printf("[ERROR] insert event %d failed: %v", i, err)
			continue
		}
		inserted += n
	}

	log.Printf("[INFO] Seed complete: events=%d attributes=%d", cfg.Events, inserted)
}

// ------------------- Schema -------------------

// ensureTables creates minimal MISP-shaped events/attributes tables.
// Column names and types match what the extractor's join expects.
func ensureTables(db *sql.DB, driver string) error {
	serial := "INTEGER PRIMARY KEY AUTO_INCREMENT"
	if driver == "postgres" {
		serial = "SERIAL PRIMARY KEY"
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
    id %s,
    uuid VARCHAR(40),
    info TEXT,
    date DATE,
    timestamp BIGINT
)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS attributes (
    id %s,
    event_id INTEGER,
    type VARCHAR(100),
    category VARCHAR(255),
    value1 TEXT,
    timestamp BIGINT,
    comment TEXT,
    to_ids SMALLINT
)`, serial),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ------------------- Inserts -------------------

// insertEvent writes one event and its attributes, returning the number of
// attributes inserted.
func insertEvent(db *sql.DB, cfg SeedConfig) (int, error) {
	ph := func(i int) string {
		if cfg.Driver == "postgres" {
			return fmt.Sprintf("$%d", i)
		}
		return "?"
	}

	age := time.Duration(gofakeit.Number(0, cfg.MaxAgeHours*3600)) * time.Second
	eventTime := time.Now().Add(-age)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var eventID int64
	insert := fmt.Sprintf(
		"INSERT INTO events (uuid, info, date, timestamp) VALUES (%s, %s, %s, %s)",
		ph(1), ph(2), ph(3), ph(4))
	args := []interface{}{
		gofakeit.UUID(),
		"OSINT - " + gofakeit.Sentence(6),
		eventTime.Format("2006-01-02"),
		eventTime.Unix(),
	}

	if cfg.Driver == "postgres" {
		row := db.QueryRowContext(ctx, insert+" RETURNING id", args...)
		if err := row.Scan(&eventID); err != nil {
			return 0, err
		}
	} else {
		res, err := db.ExecContext(ctx, insert, args...)
		if err != nil {
			return 0, err
		}
		eventID, err = res.LastInsertId()
		if err != nil {
			return 0, err
		}
	}

	inserted := 0
	for j := 0; j < cfg.AttributesPerEvent; j++ {
		typ := ioc.DefaultTypes[gofakeit.Number(0, len(ioc.DefaultTypes)-1)]
		attrAge := time.Duration(gofakeit.Number(0, cfg.MaxAgeHours*3600)) * time.Second
		attrTime := time.Now().Add(-attrAge)

		q := fmt.Sprintf(
			"INSERT INTO attributes (event_id, type, category, value1, timestamp, comment, to_ids) VALUES (%s, %s, %s, %s, %s, %s, %s)",
			ph(1), ph(2), ph(3), ph(4), ph(5), ph(6), ph(7))
		_, err := db.ExecContext(ctx, q,
			eventID,
			typ,
			categoryFor(typ),
			valueFor(typ),
			attrTime.Unix(),
			gofakeit.Sentence(4),
			gofakeit.Number(0, 1),
		)
		if err != nil {
			log.Printf("[ERROR] insert attribute failed: %v", err)
			continue
		}
		inserted++
	}
	return inserted, nil
}

// valueFor generates a plausible indicator value for a MISP attribute type.
func valueFor(typ string) string {
	switch typ {
	case "ip-src", "ip-dst":
		return gofakeit.IPv4Address()
	case "domain", "hostname":
		return gofakeit.DomainName()
	case "url":
		return gofakeit.URL()
	case "md5":
		return gofakeit.Regex("[a-f0-9]{32}")
	case "sha1":
		return gofakeit.Regex("[a-f0-9]{40}")
	case "sha256":
		return gofakeit.Regex("[a-f0-9]{64}")
	case "filename":
		return gofakeit.Word() + ".exe"
	case "email-src", "email-dst":
		return gofakeit.Email()
	case "mutex":
		return "Global\\" + gofakeit.LetterN(12)
	case "regkey":
		return "HKLM\\Software\\" + gofakeit.Word()
	case "snort":
		return fmt.Sprintf(`alert tcp any any -> any %d (msg:"%s"; sid:%d;)`,
			gofakeit.Number(1, 65535), gofakeit.Word(), gofakeit.Number(1000000, 9999999))
	case "yara":
		return fmt.Sprintf("rule %s { condition: true }", gofakeit.Word())
	default:
		return gofakeit.Word()
	}
}

// categoryFor maps a type to a typical MISP category.
func categoryFor(typ string) string {
	switch typ {
	case "ip-src", "ip-dst", "domain", "hostname", "url":
		return "Network activity"
	case "md5", "sha1", "sha256", "filename", "mutex", "regkey":
		return "Payload delivery"
	case "email-src", "email-dst":
		return "Payload delivery"
	case "snort", "yara":
		return "Artifacts dropped"
	default:
		return "Other"
	}
}
