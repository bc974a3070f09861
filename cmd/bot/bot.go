package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Sod3n/Determenistic.GameFramework/internal/client"
	"github.com/Sod3n/Determenistic.GameFramework/internal/logging"
	"github.com/Sod3n/Determenistic.GameFramework/internal/protocol"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/core"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/demo"
	"github.com/Sod3n/Determenistic.GameFramework/internal/sim/network"
)

var difficulties = []string{"Easy", "Normal", "Hard"}

type botConfig struct {
	URL     string
	MatchID uuid.UUID
	Name    string
	Actions int
	// Rate is actions per second.
	Rate   float64
	Settle time.Duration
	Seed   int64
	Log    *slog.Logger
}

// Result is what one bot saw once its replica settled.
type Result struct {
	PlayerID  uuid.UUID     `json:"player_id"`
	Name      string        `json:"name"`
	Sent      int           `json:"sent"`
	Digest    string        `json:"digest"`
	Desyncs   int           `json:"id_desyncs"`
	Errors    int           `json:"server_errors"`
	RTT       time.Duration `json:"rtt"`
	ClockSync bool          `json:"clock_synced"`
	Summary   demo.Summary  `json:"summary"`
}

type bot struct {
	cfg    botConfig
	log    *slog.Logger
	game   *demo.Game
	client *client.Client
	clock  *client.Clock
	rng    *rand.Rand
}

func newBot(cfg botConfig) *bot {
	log := logging.OrNop(cfg.Log).With("bot", cfg.Name)
	id := uuid.New()
	g := demo.New(cfg.MatchID)
	return &bot{
		cfg:    cfg,
		log:    log,
		game:   g,
		client: client.New(id, cfg.MatchID, g, log),
		clock:  client.NewClock(),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// run connects, plays cfg.Actions random actions and reports the settled
// replica state.
func (b *bot) run(ctx context.Context) (Result, error) {
	var errCount int
	conn, err := client.Dial(ctx, client.DialOptions{
		URL:        b.cfg.URL,
		PlayerID:   b.client.PlayerID,
		MatchID:    b.cfg.MatchID,
		PlayerName: b.cfg.Name,
		Codec:      demo.Codec(),
		Inbox:      b.client.Processor,
		Clock:      b.clock,
		OnError: func(m protocol.ErrorMsg) {
			b.log.Warn("server error", "code", m.Code, "message", m.Message)
			b.client.Loop.Schedule(func() { errCount++ })
		},
		Logger: b.log,
	})
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	b.client.Bind(conn)

	lctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(lctx)
	g.Go(func() error {
		return ignoreCanceled(b.client.Loop.Run(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(conn.RunTimeSync(gctx, 5*time.Second))
	})

	res := Result{PlayerID: b.client.PlayerID, Name: b.cfg.Name}
	playErr := b.play(gctx, &res)
	if playErr == nil {
		playErr = sleep(gctx, b.cfg.Settle)
	}
	if playErr == nil {
		playErr = b.client.Loop.Do(gctx, func() {
			res.Digest, err = core.Digest(b.game)
			res.Summary = b.game.Summary()
			res.Desyncs = b.client.Processor.IDDesyncs()
			res.Errors = errCount
		})
		if playErr == nil {
			playErr = err
		}
	}
	res.RTT = conn.RTT()
	res.ClockSync = b.clock.Synced()

	cancel()
	if err := g.Wait(); err != nil && playErr == nil {
		playErr = err
	}
	if playErr != nil {
		return res, fmt.Errorf("%s: %w", b.cfg.Name, playErr)
	}
	return res, nil
}

func (b *bot) play(ctx context.Context, res *Result) error {
	b.client.Send(&demo.Join{})
	res.Sent++
	r := rate.Limit(b.cfg.Rate)
	if b.cfg.Rate <= 0 {
		r = rate.Inf
	}
	lim := rate.NewLimiter(r, 1)
	for i := 0; i < b.cfg.Actions; i++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		b.client.Send(b.next())
		res.Sent++
	}
	return nil
}

// next picks a random action that any player may send.
func (b *bot) next() network.Action {
	switch b.rng.Intn(8) {
	case 0:
		return &demo.Increment{Amount: b.rng.Intn(5) + 1}
	case 1:
		return &demo.RollDice{Sides: 6}
	case 2:
		return &demo.SpawnMarker{Label: b.cfg.Name}
	case 3:
		return &demo.SendChat{Text: fmt.Sprintf("%s says %d", b.cfg.Name, b.rng.Intn(100))}
	case 4:
		return &demo.VoteDifficulty{Option: difficulties[b.rng.Intn(len(difficulties))]}
	case 5:
		return &demo.ShuffleDeck{}
	case 6:
		return &demo.DrawCard{}
	default:
		return &demo.ReadyUp{}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
