package checks

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"agendawatch/internal/env"
	"agendawatch/internal/notion"
	logx "agendawatch/pkg/logx"
)

// InventoryResult holds the page counts of the two scanned databases.
type InventoryResult struct {
	Meetings int
	Absences int
}

// RunInventory queries the meetings and absences databases concurrently and
// logs how many pages each holds.
func RunInventory(ctx context.Context, d Deps) error {
	_, err := CountDatabases(ctx, d)
	return err
}

func CountDatabases(ctx context.Context, d Deps) (InventoryResult, error) {
	ids, err := d.require(env.DBMeetings, env.DBAbsences)
	if err != nil {
		return InventoryResult{}, err
	}

	var res InventoryResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pages, err := d.Notion.QueryDatabase(gctx, ids[env.DBMeetings], notion.Query{})
		if err != nil {
			return fmt.Errorf("query meetings: %w", err)
		}
		res.Meetings = len(pages)
		return nil
	})
	g.Go(func() error {
		pages, err := d.Notion.QueryDatabase(gctx, ids[env.DBAbsences], notion.Query{})
		if err != nil {
			return fmt.Errorf("query absences: %w", err)
		}
		res.Absences = len(pages)
		return nil
	})
	if err := g.Wait(); err != nil {
		return InventoryResult{}, err
	}

	d.logger().Info("inventory",
		logx.Int("meetings", res.Meetings),
		logx.Int("absences", res.Absences),
	)
	return res, nil
}
