package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"fretscout/api"
	"fretscout/models"
	"fretscout/scraper"
	"fretscout/services"
	"fretscout/utils"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "fretscout",
		Usage:   "Search used and vintage guitar listings, score deals and track alerts",
		Version: version,

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file overlaying the environment",
				EnvVars: []string{"FRETSCOUT_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error); overrides LOG_LEVEL",
				EnvVars: []string{"FRETSCOUT_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "secrets-file",
				Usage:   "Dotenv file with EBAY_CLIENT_ID and EBAY_CLIENT_SECRET",
				EnvVars: []string{"FRETSCOUT_SECRETS_FILE"},
			},
		},

		Commands: []*cli.Command{
			searchCommand(),
			serveCommand(),
			alertsCommand(),
			eventsCommand(),
			categoriesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search listings, score them and match saved alerts",
		ArgsUsage: "QUERY",
		Flags: []cli.Flag{
			&cli.Float64Flag{
				Name:  "max-price",
				Usage: "Only keep listings whose price plus shipping is at most this",
			},
			&cli.StringFlag{
				Name:  "category",
				Usage: "Category name or id (see 'categories')",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum listings to request from each source",
			},
			&cli.StringFlag{
				Name:  "sort",
				Value: "relevance",
				Usage: "Sort order (relevance, price, deal_score)",
			},
			&cli.Float64Flag{
				Name:  "min-score",
				Usage: "Only show listings with a deal score of at least this",
			},
			&cli.BoolFlag{
				Name:  "high-confidence",
				Usage: "Only show High confidence listings",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "table",
				Usage:   "Output format (table, json)",
			},
			&cli.StringFlag{
				Name:  "csv",
				Usage: "Export scored listings to this CSV file; overrides CSV_OUTPUT_PATH",
			},
			&cli.BoolFlag{
				Name:  "insights",
				Value: true,
				Usage: "Print the insights report after a table search",
			},
		},
		Action: runSearch,
	}
}

func runSearch(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return cli.Exit("a search QUERY is required", 2)
	}

	req, err := searchRequest(c, query)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	format := c.String("format")
	if format != "table" && format != "json" {
		return cli.Exit(fmt.Sprintf("unknown format %q", format), 2)
	}

	rt, err := setup(c)
	if err != nil {
		return err
	}
	defer rt.Close()

	csvPath := rt.cfg.CSVOutputPath
	if c.IsSet("csv") {
		csvPath = c.String("csv")
	}
	pipeline, err := rt.pipeline(c.Context, csvPath)
	if err != nil {
		return err
	}

	res, err := pipeline.Search(c.Context, req)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if res.UsedFallback {
		fmt.Println("  Live search failed; showing sample listings.")
	}
	printListings(res.Listings)
	printEvents(res.Events)
	if c.Bool("insights") {
		insights := services.NewInsightService(rt.logger)
		insights.Print(insights.Generate(res.Scored))
	}
	return nil
}

func searchRequest(c *cli.Context, query string) (services.SearchRequest, error) {
	req := services.SearchRequest{
		Query:              query,
		Limit:              c.Int("limit"),
		MinScore:           c.Float64("min-score"),
		HighConfidenceOnly: c.Bool("high-confidence"),
	}

	if p := c.Float64("max-price"); p > 0 {
		req.MaxPrice = &p
	} else if p < 0 {
		return req, fmt.Errorf("--max-price must be >= 0")
	}

	if cat := c.String("category"); cat != "" {
		id, ok := scraper.ResolveCategory(cat)
		if !ok {
			return req, fmt.Errorf("unknown category %q", cat)
		}
		req.CategoryIDs = []string{id}
	}

	mode, err := services.ParseSortMode(c.String("sort"))
	if err != nil {
		return req, err
	}
	req.Sort = mode
	return req, nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the JSON HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address; overrides HTTP_ADDR",
			},
		},
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			addr := rt.cfg.HTTPAddr
			if c.IsSet("addr") {
				addr = c.String("addr")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			pipeline, err := rt.pipeline(ctx, rt.cfg.CSVOutputPath)
			if err != nil {
				return err
			}
			srv := api.NewServer(pipeline, rt.store, rt.logger, api.WithServerTracer(rt.tracer.Tracer()))
			return srv.ListenAndServe(ctx, addr)
		},
	}
}

func alertsCommand() *cli.Command {
	return &cli.Command{
		Name:  "alerts",
		Usage: "Manage saved alerts",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Save an alert for a query",
				ArgsUsage: "QUERY",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  "max-price",
						Usage: "Only match listings whose price plus shipping is at most this",
					},
				},
				Action: func(c *cli.Context) error {
					query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
					if query == "" {
						return cli.Exit("an alert QUERY is required", 2)
					}
					var maxPrice *float64
					if p := c.Float64("max-price"); p > 0 {
						maxPrice = &p
					} else if p < 0 {
						return cli.Exit("--max-price must be >= 0", 2)
					}

					rt, err := setup(c)
					if err != nil {
						return err
					}
					defer rt.Close()

					alert, err := rt.store.InsertAlert(c.Context, query, maxPrice)
					if err != nil {
						return fmt.Errorf("save alert: %w", err)
					}
					fmt.Printf("Saved alert #%d: %s (max price %s)\n", alert.ID, alert.Query, utils.FormatPrice(alert.MaxPrice))
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "List saved alerts, newest first",
				Action: func(c *cli.Context) error {
					rt, err := setup(c)
					if err != nil {
						return err
					}
					defer rt.Close()

					alerts, err := rt.store.ListAlerts(c.Context)
					if err != nil {
						return fmt.Errorf("list alerts: %w", err)
					}
					if len(alerts) == 0 {
						fmt.Println("No saved alerts yet.")
						return nil
					}
					for _, a := range alerts {
						fmt.Printf("#%-4d %-30s Max price: %-12s Created: %s\n",
							a.ID, a.Query, utils.FormatPrice(a.MaxPrice), a.CreatedAt.Format("2006-01-02 15:04:05"))
					}
					return nil
				},
			},
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "List alert events, newest first",
		Action: func(c *cli.Context) error {
			rt, err := setup(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			events, err := rt.store.ListEvents(c.Context)
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			printEvents(events)
			return nil
		},
	}
}

func categoriesCommand() *cli.Command {
	return &cli.Command{
		Name:  "categories",
		Usage: "List known listing categories",
		Action: func(c *cli.Context) error {
			for _, name := range scraper.CategoryNames() {
				fmt.Printf("%-22s %s\n", name, scraper.Categories[name])
			}
			return nil
		},
	}
}

func printListings(listings []models.Listing) {
	if len(listings) == 0 {
		fmt.Println("No listings found for this query.")
		return
	}
	fmt.Printf("Found %d listing(s).\n\n", len(listings))
	fmt.Printf("  %-3s %-42s %12s %12s %-5s %6s %-8s %s\n",
		"#", "TITLE", "PRICE", "ALL-IN", "DEAL", "SCORE", "CONF", "SOURCE")
	for i, l := range listings {
		label, score := "-", "-"
		if l.Deal != nil {
			label = string(l.Deal.Label)
			score = fmt.Sprintf("%.1f", l.Deal.Score)
		}
		fmt.Printf("  %-3d %-42s %12s %12s %-5s %6s %-8s %s\n",
			i+1, clip(l.Title, 42), utils.FormatPrice(l.Price), utils.FormatPrice(l.AllInPrice()),
			label, score, l.Confidence, l.Source)
	}
	fmt.Println()
}

func printEvents(events []models.AlertEvent) {
	if len(events) == 0 {
		fmt.Println("No alert events.")
		return
	}
	for _, e := range events {
		fmt.Printf("Alert #%d | %s | %s\n", e.AlertID, e.Message, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
