package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/treefix50/markerguard/internal/markers"
	"github.com/treefix50/markerguard/internal/purge"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Scan every library section for purged markers and print a report",
	Long: `check compares the action log with the Plex database and reports every
marker that Plex deleted behind markerguard's back. Nothing is modified.`,
	RunE: runCheck,
}

var checkWorkers int

func init() {
	checkCmd.Flags().IntVarP(&checkWorkers, "workers", "w", 0, "sections scanned at once (default backup.scan_workers)")
	rootCmd.AddCommand(checkCmd)
}

type sectionReport struct {
	section markers.Section
	purged  int
	err     error
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.purges.Enabled() {
		return markers.ErrBackupDisabled
	}
	if err := a.integrity(); err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sections, err := a.editor.Sections(ctx)
	if err != nil {
		return err
	}

	workers := checkWorkers
	if workers <= 0 {
		workers = cfg.Backup.ScanWorkers
	}

	start := time.Now()
	bar := progressbar.NewOptions(len(sections),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Scanning sections"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	var (
		mu      sync.Mutex
		reports = make([]sectionReport, len(sections))
	)
	p := pool.New().WithMaxGoroutines(workers).WithContext(ctx)
	for i, section := range sections {
		p.Go(func(ctx context.Context) error {
			r := sectionReport{section: section}
			var g *purge.Group
			if g, r.err = a.purges.Section(ctx, section.ID); r.err == nil {
				r.purged = g.Count()
			}
			mu.Lock()
			reports[i] = r
			_ = bar.Add(1)
			mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()
	_ = bar.Finish()

	out := cmd.OutOrStdout()
	total, failed := 0, 0
	for _, r := range reports {
		switch {
		case r.err != nil:
			failed++
			fmt.Fprintf(out, "%-30s error: %v\n", r.section.Name, r.err)
		case r.purged == 0:
			fmt.Fprintf(out, "%-30s no purged markers\n", r.section.Name)
		default:
			total += r.purged
			fmt.Fprintf(out, "%-30s %s purged %s\n", r.section.Name, humanize.Comma(int64(r.purged)), plural(r.purged, "marker"))
		}
	}
	fmt.Fprintf(out, "\n%s purged %s across %d %s, checked in %v\n",
		humanize.Comma(int64(total)), plural(total, "marker"),
		len(sections), plural(len(sections), "section"),
		time.Since(start).Round(time.Millisecond))
	if failed > 0 {
		return fmt.Errorf("%d of %d sections failed", failed, len(sections))
	}
	return nil
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
