package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"storyseed/internal/app"
	"storyseed/internal/config"
	"storyseed/internal/domain"
	"storyseed/internal/engine"
	"storyseed/internal/manifest"
	"storyseed/internal/timeline"
)

var manifestKinds = []domain.Kind{
	domain.KindStory, domain.KindTask, domain.KindBug, domain.KindIncident,
	domain.KindFollowup, domain.KindEpic, domain.KindInitiative,
}

func generateCmd() *cobra.Command {
	var (
		storyPath, seed, startDate, endDate string
		manifestPath, assignees, target     string
		monthlyVolume, batchSize            int
		dryRun, disableSprints              bool
		disableTransitions, enableComments  bool
		disableIncidents                    bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the story history into a tracker",
		Long: `Synthesizes every record of the story for the given seed and creates the missing ones.
Records already present (matched by their extid- label) are skipped, so an interrupted run
can simply be started again with the same seed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dryRun {
				target = app.TargetMemory
			}
			params := app.GenerateParams{
				Workspace:    viper.GetString("workspace"),
				StoryPath:    storyPath,
				Seed:         seed,
				StartDate:    startDate,
				EndDate:      endDate,
				BatchSize:    batchSize,
				Sprints:      !disableSprints,
				Transitions:  !disableTransitions,
				Comments:     enableComments,
				Incidents:    !disableIncidents,
				Assignees:    splitList(assignees),
				Target:       target,
				ManifestPath: manifestPath,
				Jira: app.JiraConfig{
					BaseURL: viper.GetString("jira-url"),
					User:    viper.GetString("jira-user"),
					Token:   viper.GetString("jira-token"),
				},
			}
			if cmd.Flags().Changed("monthly-volume") {
				params.MonthlyVolume = &monthlyVolume
			}
			out, err := app.Generate(cmd.Context(), params)
			if err != nil && !errors.Is(err, engine.ErrIncomplete) {
				return err
			}
			if viper.GetBool("json") {
				if perr := printJSON(map[string]any{"run": out.Run, "result": out.Result}); perr != nil {
					return perr
				}
			} else {
				printResult(out)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&storyPath, "story", "", "story YAML file")
	cmd.Flags().StringVar(&seed, "seed", "", "generation seed")
	cmd.Flags().StringVar(&startDate, "start-date", "", "story start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "story end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&monthlyVolume, "monthly-volume", 0, "fixed records per project and month")
	cmd.Flags().IntVar(&batchSize, "batch-size", engine.DefaultBatchSize, "records per creation call")
	cmd.Flags().StringVar(&manifestPath, "manifest", "manifest.json", "manifest output path")
	cmd.Flags().StringVar(&assignees, "assignees", "", "comma separated assignee emails")
	cmd.Flags().StringVar(&target, "target", app.TargetJira, "tracker target: jira, local or memory")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate against an in-memory tracker")
	cmd.Flags().BoolVar(&disableSprints, "disable-sprints", false, "skip boards and sprints")
	cmd.Flags().BoolVar(&disableTransitions, "disable-transitions", false, "leave records in their initial status")
	cmd.Flags().BoolVar(&enableComments, "enable-comments", false, "add progress comments")
	cmd.Flags().BoolVar(&disableIncidents, "disable-incidents", false, "skip incidents and follow-ups")
	cmd.Flags().String("jira-url", "", "Jira site URL")
	cmd.Flags().String("jira-user", "", "Jira user email (token from JIRA_TOKEN)")
	_ = viper.BindPFlag("jira-url", cmd.Flags().Lookup("jira-url"))
	_ = viper.BindPFlag("jira-user", cmd.Flags().Lookup("jira-user"))
	_ = cmd.MarkFlagRequired("story")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}

func printResult(out app.GenerateResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Synthesized", "Created", "Skipped", "Pending", "Links", "Follow-ups", "Sprint assignments"})
	r := out.Result
	tw.AppendRow(table.Row{r.Synthesized, r.Created, r.Skipped, r.Pending, r.Links, r.Followups, r.SprintAssignments})
	tw.Render()
	if out.Manifest != nil {
		printManifest(out.Manifest.Document())
	}
	if r.Pending > 0 {
		fmt.Printf("%d records are still pending; run again with the same seed to resume.\n", r.Pending)
	}
}

func printManifest(doc manifest.Document) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{"Project"}
	for _, k := range manifestKinds {
		header = append(header, string(k))
	}
	header = append(header, "Total")
	tw.AppendHeader(header)
	for _, project := range slices.Sorted(maps.Keys(doc.Counts.ByProject)) {
		counts := doc.Counts.ByProject[project]
		row := table.Row{string(project)}
		for _, k := range manifestKinds {
			row = append(row, counts[k])
		}
		row = append(row, counts.Total())
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{"Cross-project epic links", doc.Dependencies.CrossProjectEpics})
	tw.Render()
}

func planCmd() *cobra.Command {
	var storyPath, startDate, endDate string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the month-by-month narrative plan of a story",
		RunE: func(cmd *cobra.Command, args []string) error {
			story, err := config.FromFile(storyPath)
			if err != nil {
				return err
			}
			rng, err := timeline.Resolve(startDate, endDate, time.Now())
			if err != nil {
				return err
			}
			rows := planRows(story, rng)
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Month", "Starts", "Arc", "Volume mean", "Volume std", "Incident rate"})
			for _, r := range rows {
				tw.AppendRow(table.Row{r.Month, r.Starts, r.Arc, r.VolumeMean, r.VolumeStd, r.IncidentRate})
			}
			tw.AppendFooter(table.Row{"Projects", len(story.Projects), "Sprints", len(rng.SprintWindows()), "Recovery", fmt.Sprint(story.Recovery())})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&storyPath, "story", "", "story YAML file")
	cmd.Flags().StringVar(&startDate, "start-date", "", "story start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "story end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("story")
	return cmd
}

type planRow struct {
	Month        int     `json:"month"`
	Starts       string  `json:"starts"`
	Arc          string  `json:"arc"`
	VolumeMean   float64 `json:"volume_mean"`
	VolumeStd    float64 `json:"volume_std"`
	IncidentRate float64 `json:"incident_rate"`
}

// planRows lists every month of the range; months outside all arcs produce nothing.
func planRows(story *config.Story, rng timeline.Range) []planRow {
	rows := make([]planRow, 0, rng.Months)
	for month := 0; month < rng.Months; month++ {
		row := planRow{Month: month, Starts: rng.MonthStart(month).Format("2006-01-02"), Arc: "-"}
		if arc, ok := timeline.ArcFor(story.Arcs, month); ok {
			row.Arc = arc.Name
			row.VolumeMean = arc.MonthlyVolumeMean
			row.VolumeStd = arc.MonthlyVolumeStd
			row.IncidentRate = arc.IncidentRate
		}
		rows = append(rows, row)
	}
	return rows
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
