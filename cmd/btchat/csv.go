package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/requirements"
)

func newCSVCommand(opts *rootOptions) *cobra.Command {
	var (
		row         int
		concurrency int
		outDir      string
	)

	cmd := &cobra.Command{
		Use:   "csv <file>",
		Short: "Generate behavior trees from a requirements spreadsheet",
		Long: `Generate behavior trees from a CSV file with one mission per row.

The "Mission Description" column is required; technical, operational,
uncertainty and adaptation columns are folded into the prompt when present.
With --row a single row (1-based) is generated in the current session.
Otherwise every row is generated in its own session named <session>-row-<n>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			rows, err := requirements.ReadCSV(f)
			f.Close()
			if err != nil {
				return err
			}
			if err := checkRow(row, len(rows)); err != nil {
				return err
			}

			return opts.withApp(cmd, func(ctx context.Context, a *app) error {
				r := newRenderer(cmd.OutOrStdout(), opts.raw)
				if row > 0 {
					reply := a.engine.Handle(ctx, engine.Request{SessionID: opts.sessionID, Row: rows[row-1]})
					r.reply(reply)
					return writeTree(outDir, row, reply)
				}

				replies, err := generateRows(ctx, a.engine, btchat.SessionID(opts.sessionID), rows, concurrency)
				if err != nil {
					return err
				}
				for i, reply := range replies {
					fmt.Fprintln(r.out, styleTitle.Render(fmt.Sprintf("Row %d", i+1)))
					r.reply(reply)
					if err := writeTree(outDir, i+1, reply); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&row, "row", "r", 0, "generate only this row (1-based, 0 for all)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 4, "rows generated in parallel")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "directory to write row-<n>.xml files into")
	return cmd
}

// checkRow validates a --row value against a file of n data rows. Zero
// selects every row.
func checkRow(row, n int) error {
	switch {
	case n == 0:
		return errors.New("btchat: csv has no data rows")
	case row < 0:
		return fmt.Errorf("btchat: row %d is invalid: rows are numbered from 1", row)
	case row > n:
		return fmt.Errorf("btchat: row %d out of range: file has %d rows", row, n)
	}
	return nil
}

// generateRows handles every row in its own session, at most limit at a
// time. Replies are returned in row order.
func generateRows(ctx context.Context, eng *engine.Engine, sessionID string, rows []requirements.Row, limit int) ([]engine.Reply, error) {
	if limit <= 0 {
		limit = 1
	}
	replies := make([]engine.Reply, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, row := range rows {
		g.Go(func() error {
			replies[i] = eng.Handle(gctx, engine.Request{
				SessionID: fmt.Sprintf("%s-row-%d", sessionID, i+1),
				Row:       row,
			})
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return replies, nil
}

func writeTree(dir string, n int, reply engine.Reply) error {
	if dir == "" || reply.Kind != engine.KindArtifact {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("row-%d.xml", n)), []byte(reply.Text+"\n"), 0o644)
}
