package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/confirmation-messenger/internal/db"
)

// seed fills pending_confirmations with fake reply windows so the
// resolver and purge worker can be exercised against a realistic table.
func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedConfirmations(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed confirmations: %v", err)
	}

	log.Println("seed complete")
}

func seedConfirmations(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d pending confirmations", count)

	const batchSize = 500

	appointmentID := int64(1)
	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			phone := fakeBrazilianMobile()
			created := time.Now().UTC().Add(-time.Duration(gofakeit.Number(0, 7*60)) * time.Minute)
			// Some rows are already past expiry so purge runs have
			// something to do.
			expires := created.Add(6 * time.Hour)

			_, err := tx.Exec(ctx, `
				INSERT INTO pending_confirmations (id, appointment_id, phone, created_at, expires_at)
				VALUES (gen_random_uuid(), $1, $2, $3, $4)
			`, appointmentID, phone, created, expires)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
			appointmentID++
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("confirmations seeded: %d/%d", end, count)
	}

	log.Println("confirmations seeded")
	return nil
}

// fakeBrazilianMobile builds 55 + DDD + 9XXXXXXXX, sometimes without
// the ninth digit the way legacy records come in.
func fakeBrazilianMobile() string {
	ddd := gofakeit.Number(11, 99)
	subscriber := gofakeit.Number(10000000, 99999999)
	if gofakeit.Bool() {
		return fmt.Sprintf("55%d9%d", ddd, subscriber)
	}
	return fmt.Sprintf("55%d%d", ddd, subscriber)
}
