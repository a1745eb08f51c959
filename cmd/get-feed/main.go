package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/Amund211/duelhistory/internal/adapters/geoguessr"
	"github.com/Amund211/duelhistory/internal/ratelimiting"
)

// Print the relevant games on one page of the activity feed, and the cursor of the next page
func main() {
	authCookie := os.Getenv("GEOGUESSR_AUTH_COOKIE")
	if authCookie == "" {
		log.Fatal("No GeoGuessr auth cookie provided")
	}

	cursor := ""
	if len(os.Args) >= 2 {
		cursor = os.Args[1]
	}

	scheduler, stop, err := ratelimiting.NewRequestScheduler(time.After)
	if err != nil {
		log.Fatalf("Failed to create request scheduler: %v", err)
	}
	defer stop()

	httpClient := &http.Client{Timeout: 20 * time.Second}
	executor, err := geoguessr.NewExecutor(
		httpClient,
		scheduler,
		authCookie,
		geoguessr.DefaultExecutorOptions(500*time.Millisecond),
		time.After,
	)
	if err != nil {
		log.Fatalf("Failed to create executor: %v", err)
	}
	api := geoguessr.NewAPI(executor)

	ctx := context.Background()
	feedPage, err := api.GetFeedPage(ctx, cursor)
	if err != nil {
		log.Fatalf("Failed to get feed page: %v", err)
	}

	activities := geoguessr.ExtractGameActivities(ctx, feedPage.Entries)
	log.Printf("Got %d entries with %d relevant games", len(feedPage.Entries), len(activities))
	for _, activity := range activities {
		fmt.Printf("%s\t%s\t%s\n", activity.Time.Format(time.RFC3339), activity.GameID, activity.CompetitiveGameMode)
	}

	if feedPage.PaginationToken == "" {
		log.Println("Reached the end of the feed")
		return
	}
	log.Printf("Next cursor: %s", feedPage.PaginationToken)
}
