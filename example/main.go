// Example walks one session through generate, modify and chat against a
// live provider. It uses PostgreSQL when DATABASE_URL is set and an
// in-memory store otherwise.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/gemini"
	"github.com/meikuraledutech/btchat/memory"
	"github.com/meikuraledutech/btchat/observability"
	"github.com/meikuraledutech/btchat/postgres"
)

type store interface {
	btchat.Store
	btchat.RequestLogger
}

func main() {
	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := btchat.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}
	logger := observability.NewLogger(cfg.Observability.Logging, os.Stderr)

	var s store
	if cfg.Store.DatabaseURL != "" {
		pg, err := postgres.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Close()

		// Applies migrations including the request log table.
		if err := pg.CreateSchema(ctx); err != nil {
			log.Fatal(err)
		}
		fmt.Println("✓ Schema created")
		s = pg
	} else {
		mem, err := memory.New(0, logger)
		if err != nil {
			log.Fatal(err)
		}
		s = mem
	}

	// Provider with request logging enabled.
	provider := gemini.New(cfg.Provider.APIKey, cfg.Provider.Model).WithStore(s)
	eng := engine.New(s, provider,
		engine.WithRules(cfg.Provider.MaxTokens, cfg.Provider.Temperature),
		engine.WithLogger(logger),
	)

	session, err := eng.Session(ctx, "example")
	if err != nil {
		log.Fatal(err)
	}
	if err := eng.Reset(ctx, session.ID); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ Session: %s\n\n", session.ID)

	steps := []engine.Request{
		{Mode: btchat.ModeAuto, Input: "Generate BT: a drone patrols a perimeter and reports intrusions."},
		{Mode: btchat.ModeAuto, Input: "Modify the tree so the drone returns home when the battery is low."},
		{Mode: btchat.ModeChat, Input: "Which node handles the low battery case?"},
	}

	for i, req := range steps {
		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("STEP %d: %s\n", i+1, req.Input)
		fmt.Println(strings.Repeat("=", 80))

		req.SessionID = session.ID
		reply := eng.Handle(ctx, req)
		if reply.Kind == engine.KindError || reply.Kind == engine.KindWarning {
			fmt.Println(reply.Text)
			return
		}

		fmt.Printf("✓ %s reply, mode %s (%d tokens)\n", reply.Kind, reply.Mode, reply.Usage.TotalTokens)
		fmt.Println(reply.Text)
		fmt.Println()
	}

	history, err := eng.History(ctx, session.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("✓ History holds %d messages\n", len(history))
}
