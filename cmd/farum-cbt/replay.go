package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/PabloGalante/farum-cbt/internal/app/conversation"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

var (
	replayParallel int
	replayOut      string
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.json>",
	Short: "Run scripted sessions through the turn engine and print the transcripts",
	Long: `replay reads a JSON file of scripted sessions, each with a client profile
and the client messages in order, runs every session through the engine
(sessions in parallel, turns of one session in order) and writes the
resulting turns as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().IntVarP(&replayParallel, "parallel", "p", 4, "sessions to run at once")
	replayCmd.Flags().StringVarP(&replayOut, "out", "o", "", "write results to this file instead of stdout")
}

type replayScript struct {
	Sessions []replaySession `json:"sessions"`
}

type replaySession struct {
	Name     string               `json:"name"`
	Profile  domain.ClientProfile `json:"profile"`
	Messages []string             `json:"messages"`
}

type replayResult struct {
	Name  string                     `json:"name"`
	Turns []*conversation.TurnResult `json:"turns"`
	Error string                     `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	script, err := readScript(args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	svc, err := eng.service(cfg, nil)
	if err != nil {
		return err
	}

	results := replayAll(ctx, svc, script.Sessions, replayParallel)

	var w io.Writer = cmd.OutOrStdout()
	if replayOut != "" {
		f, err := os.Create(replayOut)
		if err != nil {
			return fmt.Errorf("creating %s: %w", replayOut, err)
		}
		defer f.Close()
		w = f
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func readScript(path string) (*replayScript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script %s: %w", path, err)
	}
	var script replayScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parsing script %s: %w", path, err)
	}
	if len(script.Sessions) == 0 {
		return nil, fmt.Errorf("script %s has no sessions", path)
	}
	return &script, nil
}

// replayAll runs sessions concurrently. A failing session records its error
// and stops; the other sessions keep going.
func replayAll(ctx context.Context, svc *conversation.Service, sessions []replaySession, parallel int) []replayResult {
	results := make([]replayResult, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	for i, sess := range sessions {
		g.Go(func() error {
			results[i] = replayOne(gctx, svc, sess)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func replayOne(ctx context.Context, svc *conversation.Service, sess replaySession) replayResult {
	res := replayResult{Name: sess.Name}
	log := observability.LoggerFromContext(ctx).With("script", sess.Name)

	var snapshot *domain.SessionSnapshot
	for i, msg := range sess.Messages {
		var (
			turn *conversation.TurnResult
			err  error
		)
		if snapshot == nil {
			turn, err = svc.StartSession(ctx, sess.Profile, msg)
		} else {
			turn, err = svc.ProcessTurn(ctx, *snapshot, sess.Profile, msg)
		}
		if err != nil {
			log.Error("replay turn failed", "turn", i, "error", err)
			res.Error = fmt.Sprintf("turn %d: %v", i, err)
			return res
		}
		res.Turns = append(res.Turns, turn)
		snapshot = &turn.Session
	}
	return res
}
