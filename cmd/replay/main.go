package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	persistlog "github.com/Sod3n/Determenistic.GameFramework/internal/persistence/log"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/redisstore"
	"github.com/Sod3n/Determenistic.GameFramework/internal/persistence/snapshot"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Verify that a recorded match replays deterministically",
		Long: `Loads a match history from an archive, the sync logs or redis, replays it on
two fresh instances and checks that both traces and the final digest agree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runReplay,
	}
	f := cmd.Flags()
	f.String("archive", "", "path to a .snap.zst match archive")
	f.String("sync-dir", "", "directory with sync-*.jsonl.zst logs (requires --match)")
	f.String("redis", "", "redis address holding the mirrored history (requires --match)")
	f.String("redis-prefix", "gameframework:", "redis key prefix")
	f.String("match", "", "match id")
	f.String("digest", "", "expected final digest (defaults to the recorded one)")
	f.Bool("json", false, "print the report as JSON")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runReplay(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	archive, _ := f.GetString("archive")
	syncDir, _ := f.GetString("sync-dir")
	redisAddr, _ := f.GetString("redis")
	rawID, _ := f.GetString("match")
	expect, _ := f.GetString("digest")
	asJSON, _ := f.GetBool("json")

	var (
		matchID  uuid.UUID
		history  []json.RawMessage
		recorded string
		err      error
	)
	if rawID != "" {
		if matchID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("--match: %w", err)
		}
	}

	switch {
	case archive != "":
		arch, err := snapshot.ReadArchive(archive)
		if err != nil {
			return err
		}
		if matchID != uuid.Nil && matchID != arch.Header.MatchID {
			return fmt.Errorf("archive holds match %s, not %s", arch.Header.MatchID, matchID)
		}
		matchID = arch.Header.MatchID
		history = arch.RawHistory()
		recorded = arch.Digest
	case syncDir != "":
		if matchID == uuid.Nil {
			return errors.New("--sync-dir requires --match")
		}
		if history, err = persistlog.SyncHistory(syncDir, matchID); err != nil {
			return err
		}
	case redisAddr != "":
		if matchID == uuid.Nil {
			return errors.New("--redis requires --match")
		}
		prefix, _ := f.GetString("redis-prefix")
		store := redisstore.New(redisAddr, "", 0, redisstore.WithPrefix(prefix))
		defer store.Shutdown()
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		if history, err = store.History(ctx, matchID); err != nil {
			return err
		}
		if meta, err := store.Meta(ctx, matchID); err == nil {
			recorded = meta.Digest
		}
	default:
		return errors.New("one of --archive, --sync-dir or --redis is required")
	}
	if expect == "" {
		expect = recorded
	}

	rep, err := verify(matchID, history, expect)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(out, "replay ok: match=%s actions=%d events=%d executed=%d aborted=%d digest=%s\n",
		rep.MatchID, rep.Actions, rep.Events, rep.Executed, rep.Aborted, rep.Digest)
	fmt.Fprintf(out, "state: counter=%d players=%d markers=%d round=%d difficulty=%q\n",
		rep.Summary.Counter, rep.Summary.Players, rep.Summary.Markers, rep.Summary.Round, rep.Summary.Difficulty)
	return nil
}
