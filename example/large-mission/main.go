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
	"github.com/meikuraledutech/btchat/requirements"
)

// This example checks how a large requirements row behaves against the
// configured token limit.
// Run with: go run ./example/large-mission
// Or: MAX_TOKENS=2048 go run ./example/large-mission (to force truncation)
func main() {
	ctx := context.Background()

	cfg, err := btchat.LoadConfig("")
	if err != nil {
		log.Fatal(err)
	}

	store, err := memory.New(0, observability.NewLogger(cfg.Observability.Logging, os.Stderr))
	if err != nil {
		log.Fatal(err)
	}
	provider := gemini.New(cfg.Provider.APIKey, cfg.Provider.Model).WithStore(store)
	eng := engine.New(store, provider, engine.WithRules(cfg.Provider.MaxTokens, cfg.Provider.Temperature))

	row := requirements.Row{
		"Mission Description": "A quadruped robot inspects an offshore platform: it walks every deck, " +
			"reads 40 analog gauges, photographs corrosion hot spots, checks 12 fire extinguishers, " +
			"opens and closes 6 watertight doors and docks for charging between rounds.",
		"Robot Type":              "quadruped with manipulator arm",
		"Sensors":                 "lidar, stereo cameras, thermal camera, gas sensor, IMU",
		"Actuators":               "12 leg joints, 6-DOF arm, gripper",
		"Navigation System":       "map-based with fiducial relocalization",
		"Communication System":    "WiFi mesh, falls back to LTE",
		"Power Source":            "90 minute battery",
		"Payload":                 "3 kg",
		"Operating Environment":   "wet steel decks, stairs, narrow walkways",
		"Endurance":               "8 hour shift",
		"Fallback Behavior":       "stop when a worker is within 2 m",
		"Battery Uncertainty":     "cold drains battery 30% faster",
		"Wind Exposure":           "gusts up to 60 km/h on open decks",
		"Visibility":              "fog and spray",
		"GPS Availability":        "none below deck",
		"Obstacle Density":        "hoses and tools left on walkways",
		"Communication Loss":      "frequent below deck",
		"Sensor Failure":          "camera lens fogging",
		"Adaptation Goals":        "replan around blocked walkways",
		"Recovery Strategy":       "retry door 3 times then report",
		"Success Criteria":        "complete a round in under 60 minutes",
	}

	outcome := requirements.Extract(row)
	if !outcome.OK() {
		log.Fatal(outcome.Err)
	}
	fmt.Printf("Sending mission (%d chars) with a %d token limit...\n", len(outcome.Render()), cfg.Provider.MaxTokens)
	fmt.Println(strings.Repeat("-", 80))

	reply, err := eng.GenerateFromRow(ctx, "large-mission", row)
	if err != nil {
		fmt.Printf("❌ Error from provider: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✓ Response received\n")
	fmt.Printf("Content length: %d bytes\n", len(reply.Text))
	fmt.Printf("\nToken Usage:\n")
	fmt.Printf("  Prompt tokens:   %d\n", reply.Usage.PromptTokens)
	fmt.Printf("  Response tokens: %d\n", reply.Usage.ResponseTokens)
	fmt.Printf("  Total tokens:    %d\n", reply.Usage.TotalTokens)
	fmt.Printf("  Thought tokens:  %d\n", reply.Usage.ThoughtTokens)

	fmt.Printf("\n📊 Analysis:\n")
	if reply.Usage.ResponseTokens >= cfg.Provider.MaxTokens {
		fmt.Printf("  ⚠️  response hit the %d token limit\n", cfg.Provider.MaxTokens)
	} else {
		fmt.Printf("  ✓ Within limit: %d / %d response tokens\n", reply.Usage.ResponseTokens, cfg.Provider.MaxTokens)
	}

	fmt.Printf("\nTree Completion Check:\n")
	if reply.HasFragment {
		fmt.Println("  ✓ Response contains a complete <root> element")
	} else {
		fmt.Println("  ⚠️  No complete <root> element, the response may be truncated")
	}

	fmt.Println(strings.Repeat("-", 80))
	if len(reply.Text) > 500 {
		fmt.Println(reply.Text[:500] + "...")
	} else {
		fmt.Println(reply.Text)
	}
}
