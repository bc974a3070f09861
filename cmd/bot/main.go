package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
)

var ErrDiverged = errors.New("bots ended on different digests")

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Drive a match with scripted players",
		Long: `Connects a number of players to one match, sends random demo actions from each
and checks that every replica ends on the same digest.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBots,
	}
	f := cmd.Flags()
	f.String("url", "ws://localhost:8080/v1/ws", "server websocket url")
	f.String("match", "", "match id (random when empty)")
	f.String("name", "bot", "player name prefix")
	f.Int("players", 2, "number of players")
	f.Int("actions", 50, "actions per player")
	f.Float64("rate", 10, "actions per second per player (0 for unlimited)")
	f.Duration("settle", time.Second, "wait after the last action before reading state")
	f.Int64("seed", 1, "seed for action choice")
	f.String("log-level", "info", "debug, info, warn or error")
	f.Bool("json", false, "print results as JSON")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runBots(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	url, _ := f.GetString("url")
	rawID, _ := f.GetString("match")
	name, _ := f.GetString("name")
	players, _ := f.GetInt("players")
	actions, _ := f.GetInt("actions")
	perSec, _ := f.GetFloat64("rate")
	settle, _ := f.GetDuration("settle")
	seed, _ := f.GetInt64("seed")
	levelName, _ := f.GetString("log-level")
	asJSON, _ := f.GetBool("json")

	if players < 1 {
		return errors.New("--players must be at least 1")
	}
	matchID := uuid.New()
	if rawID != "" {
		var err error
		if matchID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("--match: %w", err)
		}
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	log := logging.New(cmd.ErrOrStderr(), level, "text").With("match_id", matchID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make([]Result, players)
	g, gctx := errgroup.WithContext(ctx)
	for i := range players {
		b := newBot(botConfig{
			URL:     url,
			MatchID: matchID,
			Name:    fmt.Sprintf("%s-%d", name, i+1),
			Actions: actions,
			Rate:    perSec,
			Settle:  settle,
			Seed:    seed + int64(i),
			Log:     log,
		})
		g.Go(func() error {
			res, err := b.run(gctx)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			fmt.Fprintf(out, "%s: sent=%d digest=%s rtt=%s desyncs=%d errors=%d counter=%d players=%d round=%d\n",
				r.Name, r.Sent, r.Digest, r.RTT, r.Desyncs, r.Errors, r.Summary.Counter, r.Summary.Players, r.Summary.Round)
		}
	}
	for _, r := range results[1:] {
		if r.Digest != results[0].Digest {
			return fmt.Errorf("%w: %s has %s, %s has %s", ErrDiverged, results[0].Name, results[0].Digest, r.Name, r.Digest)
		}
	}
	return nil
}
