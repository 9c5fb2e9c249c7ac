package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/Abeyoo/Final-ID8-sub001/core/personality"
)

func (cli *commandLine) analyze(ctx context.Context, userID string) error {
	a, err := cli.svc.TriggerAnalysis(ctx, userID)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "analysis %s: %s (confidence %.2f, %d signals)\n", a.ID, a.NewType, a.Confidence, a.SignalCount)
	if a.TypeChanged() {
		_, _ = fmt.Fprintf(cli.out, "type changed from %s\n", *a.PreviousType)
	}
	return nil
}

func (cli *commandLine) sweep(ctx context.Context) error {
	report, err := cli.sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "users: %d, committed: %d, skipped: %d, failed: %d\n",
		report.Users, report.Committed, report.Skipped, report.Failed)
	return nil
}

type profileOutput struct {
	Profile     personality.Profile                         `json:"profile"`
	Percentiles map[personality.Type]personality.Percentile `json:"percentiles"`
}

func (cli *commandLine) profile(ctx context.Context, userID string, asJSON bool) error {
	prof, err := cli.svc.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	percentiles, err := cli.svc.GetPercentiles(ctx, userID)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(cli.out)
		enc.SetIndent("", "  ")
		return enc.Encode(profileOutput{Profile: prof, Percentiles: percentiles})
	}

	_, _ = fmt.Fprintf(cli.out, "%s is a %s (confidence %.2f, updated %s)\n\n",
		prof.UserID, prof.PersonalityType, prof.Confidence, prof.LastUpdated.Format("2006-01-02 15:04:05"))
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TYPE\tSCORE\tPERCENTILE\tRUNS")
	for _, typ := range personality.Types {
		p := percentiles[typ]
		_, _ = fmt.Fprintf(w, "%s\t%.3f\t%.1f\t%d\n", typ, prof.PersonalityScores.Get(typ), p.Percentile, len(p.ScoreHistory))
	}
	return w.Flush()
}
