// seed applies the schema and inserts a small race calendar into the local
// dev database: two finished rounds, one this weekend and two ahead.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/race-sync/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/race-sync/migrations"
)

type raceSpec struct {
	round  int
	name   string
	sprint bool
	// race day relative to today
	daysFromNow int
}

var races = []raceSpec{
	{1, "Seed Grand Prix of the Past", false, -14},
	{2, "Seed Sprint Weekend", true, -7},
	{3, "Seed Grand Prix This Weekend", false, 0},
	{4, "Seed Grand Prix Next Week", true, 7},
	{5, "Seed Grand Prix Later", false, 21},
}

// sessions returns FP1..race start times for a weekend whose race starts at
// raceStart. Sprint weekends swap FP2/FP3 for sprint qualifying and sprint.
func sessions(raceStart time.Time, sprint bool) [5]time.Time {
	day := func(d int, hour int) time.Time {
		return time.Date(raceStart.Year(), raceStart.Month(), raceStart.Day()+d, hour, 30, 0, 0, time.UTC)
	}
	if sprint {
		return [5]time.Time{day(-2, 12), day(-2, 16), day(-1, 11), day(-1, 15), raceStart}
	}
	return [5]time.Time{day(-2, 11), day(-2, 15), day(-1, 11), day(-1, 15), raceStart}
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL, 4)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}

	applied, err := postgres.Migrate(ctx, pool, migrations.FS)
	if err != nil {
		pool.Close()
		log.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	season := now.Year()

	var seasonID int
	err = pool.QueryRow(ctx, `
		INSERT INTO seasons (year) VALUES ($1)
		ON CONFLICT (year) DO UPDATE SET year = EXCLUDED.year
		RETURNING id`,
		season,
	).Scan(&seasonID)
	if err != nil {
		pool.Close()
		log.Fatalf("upsert season: %v", err)
	}

	for _, r := range races {
		raceStart := time.Date(now.Year(), now.Month(), now.Day()+r.daysFromNow, 13, 0, 0, 0, time.UTC)
		s := sessions(raceStart, r.sprint)
		_, err := pool.Exec(ctx, `
			INSERT INTO races (
				season_id, round, name, event_date,
				session1_date, session2_date, session3_date, session4_date, session5_date
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (season_id, round) DO UPDATE SET
				name = EXCLUDED.name,
				event_date = EXCLUDED.event_date,
				session1_date = EXCLUDED.session1_date,
				session2_date = EXCLUDED.session2_date,
				session3_date = EXCLUDED.session3_date,
				session4_date = EXCLUDED.session4_date,
				session5_date = EXCLUDED.session5_date`,
			seasonID, r.round, r.name, raceStart.AddDate(0, 0, -2),
			s[0], s[1], s[2], s[3], s[4],
		)
		if err != nil {
			pool.Close()
			log.Fatalf("upsert round %d: %v", r.round, err)
		}
	}

	pool.Close()

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Migrations:  %v\n", applied)
	fmt.Printf("  Season:      %d (%d rounds)\n", season, len(races))
	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  Step 1 — mint an admin token:")
	fmt.Println()
	fmt.Println("    export JWT=$(go run ./cmd/racesyncctl token me)")
	fmt.Println()
	fmt.Println("  Step 2 — schedule the season:")
	fmt.Println()
	fmt.Printf("    curl -s -X POST http://localhost:8080/post-race/seasons/%d/schedule -H \"Authorization: Bearer $JWT\"\n", season)
	fmt.Println()
	fmt.Println("  Step 3 — inspect a schedule and the overdue attempts:")
	fmt.Println()
	fmt.Printf("    go run ./cmd/racesyncctl show %d:2\n", season)
	fmt.Println("    go run ./cmd/racesyncctl pending")
	fmt.Println()
	fmt.Println("  What to expect:")
	fmt.Println("    round 1     →  expired, its retry window closed more than a week ago")
	fmt.Println("    round 2     →  attempts already due; the next sweep executes them")
	fmt.Println("    round 3     →  attempts fire 6h+ after today's race ends")
	fmt.Println("    rounds 4-5  →  scheduled, first attempt days away")
}
