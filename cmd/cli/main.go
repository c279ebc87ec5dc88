package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/ortelius/community-site/client/cli"
	"github.com/ortelius/community-site/client/session"
	"github.com/ortelius/community-site/database"
)

func main() {
	defaultSession, err := session.DefaultPath()
	if err != nil {
		defaultSession = ".community-session.json"
	}

	apiURL := flag.String("api", database.GetEnvDefault("COMMUNITY_API", "http://localhost:3000/api/v1"), "API base URL")
	sessionPath := flag.String("session", defaultSession, "session file")
	flag.Usage = func() { cli.Usage(flag.CommandLine.Output()) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.NewApp(*apiURL, *sessionPath)
	if err := app.Run(ctx, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
