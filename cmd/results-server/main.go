// Command results-server exposes the evaluation results store over HTTP
// (POST /record, GET /aggregates, GET /health).
package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/resonata/probe/results"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	storeKind := flag.String("store", "memory", "Store: memory, csv, postgres, redis")
	maxRecords := flag.Int("max", 100000, "Max in-memory records when store=memory (0 = unbounded)")
	logDir := flag.String("log-dir", ".", "CSV log root when store=csv")
	dsn := flag.String("dsn", "", "PostgreSQL DSN when store=postgres (or PROBE_POSTGRES_DSN env)")
	redisAddr := flag.String("redis", "", "Redis address when store=redis (e.g. localhost:6379, or PROBE_REDIS_ADDR env)")
	redisKey := flag.String("redis-key", "", "Redis key for runs (default: probe:results:runs)")
	pgTable := flag.String("table", "eval_runs", "Postgres table name when store=postgres")
	flag.Parse()

	if v := os.Getenv("PROBE_POSTGRES_DSN"); v != "" && *dsn == "" {
		*dsn = v
	}
	if v := os.Getenv("PROBE_REDIS_ADDR"); v != "" && *redisAddr == "" {
		*redisAddr = v
	}

	var store results.Store
	switch *storeKind {
	case "memory":
		store = results.NewMemoryStore(*maxRecords)
	case "csv":
		store = results.NewCSVLog(*logDir)
	case "postgres":
		if *dsn == "" {
			log.Fatal("postgres store requires -dsn or PROBE_POSTGRES_DSN")
		}
		db, err := sql.Open("postgres", *dsn)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer db.Close()
		pg, err := results.NewPostgresStore(db, *pgTable)
		if err != nil {
			log.Fatalf("postgres store: %v", err)
		}
		store = pg
	case "redis":
		if *redisAddr == "" {
			log.Fatal("redis store requires -redis or PROBE_REDIS_ADDR")
		}
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		store = results.NewRedisStore(rdb, *redisKey)
	default:
		log.Fatalf("unknown store: %s", *storeKind)
	}

	srv := results.NewServer(store, *addr)
	log.Printf("results server listening on %s (store=%s)", *addr, *storeKind)
	log.Fatal(srv.ListenAndServe())
}
