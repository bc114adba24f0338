package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quarterplan/internal/domain"
	"quarterplan/internal/engine"
	"quarterplan/internal/repo"
)

func squadCmd() *cobra.Command {
	s := &cobra.Command{Use: "squad", Short: "Manage squads"}

	var opts engine.SquadCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a squad",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				rec, err := e.CreateSquad(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "squad id (generated when empty)")
	create.Flags().StringVar(&opts.Name, "name", "", "squad name")
	create.Flags().StringVar(&opts.Slug, "slug", "", "slug (derived from name when empty)")
	create.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	create.Flags().StringVar(&opts.Description, "description", "", "description")
	create.Flags().StringVar(&opts.Timezone, "timezone", "", "IANA timezone")
	create.Flags().StringVar(&opts.Color, "color", "", "display color")
	create.Flags().Float64Var(&opts.DefaultCapacity, "default-capacity", 0, "default quarterly capacity")
	create.Flags().StringVar(&opts.Status, "status", "", "initial status slug")
	_ = create.MarkFlagRequired("name")
	s.AddCommand(create)

	var f repo.SquadFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List squads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				f.TenantID = tenantID
				items, err := e.ListSquads(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Name, it.Slug, it.Status.Slug(), it.DefaultCapacity, it.ProductID})
				}
				renderTable(table.Row{"ID", "Name", "Slug", "Status", "Default capacity", "Product"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ProductID, "product", "", "product filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	s.AddCommand(list)

	s.AddCommand(&cobra.Command{
		Use:   "show <id-or-slug>",
		Short: "Show a squad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				rec, err := e.GetSquad(ctx, tenantID, args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	})

	var name, description, timezone, color, status string
	var defaultCapacity float64
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update squad details or status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				patch := domain.SquadPatch{
					Name:            optionalString(cmd, "name", name),
					Description:     optionalString(cmd, "description", description),
					Timezone:        optionalString(cmd, "timezone", timezone),
					Color:           optionalString(cmd, "color", color),
					DefaultCapacity: optionalFloat(cmd, "default-capacity", defaultCapacity),
				}
				rec, err := e.UpdateSquad(ctx, tenantID, args[0], patch, actorID())
				if err != nil {
					return err
				}
				if status != "" {
					if rec, err = e.ChangeSquadStatus(ctx, tenantID, args[0], status, actorID()); err != nil {
						return err
					}
				}
				return printJSON(rec)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "name")
	update.Flags().StringVar(&description, "description", "", "description")
	update.Flags().StringVar(&timezone, "timezone", "", "timezone")
	update.Flags().StringVar(&color, "color", "", "color")
	update.Flags().Float64Var(&defaultCapacity, "default-capacity", 0, "default capacity")
	update.Flags().StringVar(&status, "status", "", "status slug")
	s.AddCommand(update)

	s.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a squad and its capacity snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.DeleteSquad(ctx, tenantID, args[0], actorID())
			})
		},
	})
	return s
}

func capacityCmd() *cobra.Command {
	c := &cobra.Command{Use: "capacity", Short: "Quarterly squad capacity"}

	var opts engine.CapacityReportOptions
	var buffer float64
	report := &cobra.Command{
		Use:   "report",
		Short: "Report a squad's capacity for a quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				opts.BufferPercent = optionalFloat(cmd, "buffer", buffer)
				rec, err := e.ReportCapacity(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	report.Flags().StringVar(&opts.SquadID, "squad", "", "squad id")
	report.Flags().StringVar(&opts.Quarter, "quarter", "", "quarter, e.g. Q3-2024")
	report.Flags().Float64Var(&opts.Total, "total", 0, "total capacity")
	report.Flags().Float64Var(&opts.Used, "used", 0, "used capacity")
	report.Flags().Float64Var(&buffer, "buffer", 0, "buffer percent")
	_ = report.MarkFlagRequired("squad")
	_ = report.MarkFlagRequired("quarter")
	c.AddCommand(report)

	var quarter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List capacity snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListCapacity(ctx, tenantID, quarter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.SquadID, it.Quarter, it.TotalCapacity, it.UsedCapacity, it.BufferPercent, fmt.Sprintf("%.1f%%", it.UtilizationPercent())})
				}
				renderTable(table.Row{"Squad", "Quarter", "Total", "Used", "Buffer %", "Utilization"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&quarter, "quarter", "", "quarter filter")
	c.AddCommand(list)

	var alertQuarter string
	alerts := &cobra.Command{
		Use:   "alerts",
		Short: "Show overload and slack alerts for a quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.CapacityAlerts(ctx, tenantID, alertQuarter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				for _, a := range items {
					fmt.Printf("[%s] %s\n", a.Kind, a.Message)
				}
				return nil
			})
		},
	}
	alerts.Flags().StringVar(&alertQuarter, "quarter", "", "quarter")
	_ = alerts.MarkFlagRequired("quarter")
	c.AddCommand(alerts)
	return c
}

func epicCmd() *cobra.Command {
	ep := &cobra.Command{Use: "epic", Short: "Manage epics"}

	var opts engine.EpicCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an epic",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				rec, err := e.CreateEpic(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "epic id")
	create.Flags().StringVar(&opts.Title, "title", "", "title")
	create.Flags().StringVar(&opts.Description, "description", "", "description")
	create.Flags().StringVar(&opts.SquadID, "squad", "", "owning squad")
	create.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	create.Flags().StringVar(&opts.Quarter, "quarter", "", "quarter")
	create.Flags().StringVar(&opts.Status, "status", "", "status slug")
	create.Flags().StringVar(&opts.Health, "health", "", "health slug")
	_ = create.MarkFlagRequired("title")
	_ = create.MarkFlagRequired("quarter")
	ep.AddCommand(create)

	var f repo.EpicFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List epics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				f.TenantID = tenantID
				items, err := e.ListEpics(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Title, it.Quarter, it.SquadID, it.Status.Slug(), it.Health.Slug(), fmt.Sprintf("%.0f%%", it.ProgressPercent)})
				}
				renderTable(table.Row{"ID", "Title", "Quarter", "Squad", "Status", "Health", "Progress"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.Quarter, "quarter", "", "quarter filter")
	list.Flags().StringVar(&f.SquadID, "squad", "", "squad filter")
	list.Flags().StringVar(&f.ProductID, "product", "", "product filter")
	list.Flags().StringVar(&f.Status, "status", "", "status filter")
	ep.AddCommand(list)

	var status, health, squad string
	var progress float64
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Change an epic's status, health, progress or squad",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				id := args[0]
				rec, err := e.GetEpic(ctx, tenantID, id)
				if err != nil {
					return err
				}
				steps := []struct {
					flag string
					run  func() (domain.EpicRecord, error)
				}{
					{"status", func() (domain.EpicRecord, error) { return e.UpdateEpicStatus(ctx, tenantID, id, status, actorID()) }},
					{"health", func() (domain.EpicRecord, error) { return e.UpdateEpicHealth(ctx, tenantID, id, health, actorID()) }},
					{"progress", func() (domain.EpicRecord, error) { return e.UpdateEpicProgress(ctx, tenantID, id, progress, actorID()) }},
					{"squad", func() (domain.EpicRecord, error) { return e.AssignEpicSquad(ctx, tenantID, id, squad, actorID()) }},
				}
				for _, step := range steps {
					if !cmd.Flags().Changed(step.flag) {
						continue
					}
					if rec, err = step.run(); err != nil {
						return err
					}
				}
				return printJSON(rec)
			})
		},
	}
	update.Flags().StringVar(&status, "status", "", "status slug")
	update.Flags().StringVar(&health, "health", "", "health slug")
	update.Flags().Float64Var(&progress, "progress", 0, "progress percent (0-100)")
	update.Flags().StringVar(&squad, "squad", "", "squad id")
	ep.AddCommand(update)
	return ep
}

func featureCmd() *cobra.Command {
	fc := &cobra.Command{Use: "feature", Short: "Manage features"}

	var epicID, title, description, risk, criteria, squad, status string
	var estimate float64
	var dependsOn []string
	upsert := &cobra.Command{
		Use:   "upsert <id>",
		Short: "Create or update a feature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts := engine.FeatureUpsertOptions{
					ID:       args[0],
					TenantID: tenantID,
					EpicID:   epicID,
					Details: domain.FeatureDetails{
						Title:              optionalString(cmd, "title", title),
						Description:        optionalString(cmd, "description", description),
						Estimate:           optionalFloat(cmd, "estimate", estimate),
						RiskNotes:          optionalString(cmd, "risk-notes", risk),
						AcceptanceCriteria: optionalString(cmd, "acceptance", criteria),
					},
					SquadID: optionalString(cmd, "squad", squad),
					Status:  status,
					ActorID: actorID(),
				}
				if cmd.Flags().Changed("depends-on") {
					opts.DependsOn = dependsOn
				}
				rec, created, err := e.UpsertFeature(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rec)
				}
				verb := "updated"
				if created {
					verb = "created"
				}
				fmt.Printf("feature %s %s (estimate %g)\n", rec.ID, verb, rec.Estimate)
				return nil
			})
		},
	}
	upsert.Flags().StringVar(&epicID, "epic", "", "epic id (required on create)")
	upsert.Flags().StringVar(&title, "title", "", "title")
	upsert.Flags().StringVar(&description, "description", "", "description")
	upsert.Flags().Float64Var(&estimate, "estimate", 0, "estimate")
	upsert.Flags().StringVar(&risk, "risk-notes", "", "risk notes")
	upsert.Flags().StringVar(&criteria, "acceptance", "", "acceptance criteria")
	upsert.Flags().StringVar(&squad, "squad", "", "squad id")
	upsert.Flags().StringVar(&status, "status", "", "status slug")
	upsert.Flags().StringSliceVar(&dependsOn, "depends-on", nil, "feature ids this one depends on")
	fc.AddCommand(upsert)

	var f repo.FeatureFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List features",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				f.TenantID = tenantID
				items, err := e.ListFeatures(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.EpicID, it.Title, it.Estimate, it.Status.Slug(), strings.Join(it.DependsOn, ",")})
				}
				renderTable(table.Row{"ID", "Epic", "Title", "Estimate", "Status", "Depends on"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.EpicID, "epic", "", "epic filter")
	list.Flags().StringVar(&f.SquadID, "squad", "", "squad filter")
	list.Flags().StringVar(&f.Quarter, "quarter", "", "quarter filter")
	fc.AddCommand(list)

	fc.AddCommand(&cobra.Command{
		Use:   "review <id>",
		Short: "Mark a feature as reviewed by the acting user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				rec, err := e.MarkFeatureReviewed(ctx, tenantID, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	})
	return fc
}

func depCmd() *cobra.Command {
	d := &cobra.Command{Use: "dep", Short: "Feature dependencies"}

	var opts engine.DependencyCreateOptions
	add := &cobra.Command{
		Use:   "add",
		Short: "Declare that one feature blocks another",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				rec, err := e.CreateDependency(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	add.Flags().StringVar(&opts.BlockedFeatureID, "blocked", "", "blocked feature id")
	add.Flags().StringVar(&opts.BlockingFeatureID, "blocking", "", "blocking feature id")
	add.Flags().StringVar(&opts.Type, "type", "", "dependency type slug")
	add.Flags().StringVar(&opts.Risk, "risk", "", "risk slug")
	add.Flags().StringVar(&opts.Note, "note", "", "note")
	_ = add.MarkFlagRequired("blocked")
	_ = add.MarkFlagRequired("blocking")
	d.AddCommand(add)

	var f repo.DependencyFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				f.TenantID = tenantID
				items, err := e.ListDependencies(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.BlockingFeatureID, it.BlockedFeatureID, it.Type.Slug(), it.Risk.Slug(), it.Note})
				}
				renderTable(table.Row{"ID", "Blocking", "Blocked", "Type", "Risk", "Note"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.FeatureID, "feature", "", "feature filter")
	list.Flags().StringVar(&f.EpicID, "epic", "", "epic filter")
	list.Flags().StringVar(&f.Quarter, "quarter", "", "quarter filter")
	d.AddCommand(list)

	d.AddCommand(&cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a dependency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				return e.DeleteDependency(ctx, tenantID, args[0], actorID())
			})
		},
	})
	return d
}

func cycleCmd() *cobra.Command {
	c := &cobra.Command{Use: "cycle", Short: "Planning cycles"}

	var opts engine.CycleCreateOptions
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a planning cycle for a quarter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				rec, err := e.CreatePlanningCycle(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "cycle id")
	create.Flags().StringVar(&opts.ProductID, "product", "", "product id")
	create.Flags().StringVar(&opts.Quarter, "quarter", "", "quarter")
	_ = create.MarkFlagRequired("quarter")
	c.AddCommand(create)

	var quarter, product string
	list := &cobra.Command{
		Use:   "list",
		Short: "List planning cycles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListPlanningCycles(ctx, tenantID, quarter, product)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Quarter, it.ProductID, it.Status.Slug(), it.Phase, fmt.Sprintf("%d/%d", it.ConfirmedParticipants, it.TotalParticipants)})
				}
				renderTable(table.Row{"ID", "Quarter", "Product", "Status", "Phase", "Participants"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&quarter, "quarter", "", "quarter filter")
	list.Flags().StringVar(&product, "product", "", "product filter")
	c.AddCommand(list)

	var phase int
	status := &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Move a cycle to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				var p *int
				if cmd.Flags().Changed("phase") {
					p = &phase
				}
				rec, err := e.UpdateCycleStatus(ctx, tenantID, args[0], args[1], p, actorID())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	status.Flags().IntVar(&phase, "phase", 0, "phase number")
	c.AddCommand(status)

	var confirmed, total int
	participants := &cobra.Command{
		Use:   "participants <id>",
		Short: "Record confirmed and total participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				rec, err := e.RecordCycleParticipants(ctx, tenantID, args[0], confirmed, total, actorID())
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	participants.Flags().IntVar(&confirmed, "confirmed", 0, "confirmed participants")
	participants.Flags().IntVar(&total, "total", 0, "total participants")
	c.AddCommand(participants)
	return c
}

func scenarioCmd() *cobra.Command {
	sc := &cobra.Command{Use: "scenario", Short: "What-if capacity scenarios"}

	var opts engine.ScenarioCreateOptions
	var adjust []string
	var riskBuffer float64
	var noContractors bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			adjustments, err := parseAdjustments(adjust)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ActorID = tenantID, actorID()
				opts.Adjustments = adjustments
				opts.Parameters.RiskBufferPercent = optionalFloat(cmd, "risk-buffer", riskBuffer)
				if noContractors {
					include := false
					opts.Parameters.IncludeContractors = &include
				}
				rec, err := e.CreateScenario(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
	create.Flags().StringVar(&opts.ID, "id", "", "scenario id")
	create.Flags().StringVar(&opts.Name, "name", "", "name")
	create.Flags().StringVar(&opts.PlanningCycleID, "cycle", "", "planning cycle id")
	create.Flags().StringVar(&opts.Quarter, "quarter", "", "quarter (defaults to the cycle's)")
	create.Flags().StringSliceVar(&adjust, "adjust", nil, "squad adjustments as SQUAD=DELTA%, e.g. SQ-1=+20")
	create.Flags().Float64Var(&riskBuffer, "risk-buffer", 0, "risk buffer percent")
	create.Flags().BoolVar(&noContractors, "no-contractors", false, "exclude contractors")
	_ = create.MarkFlagRequired("name")
	sc.AddCommand(create)

	var quarter, cycle string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				items, err := e.ListScenarios(ctx, tenantID, quarter, cycle)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Name, it.Quarter, it.Status.Slug(), len(it.Adjustments)})
				}
				renderTable(table.Row{"ID", "Name", "Quarter", "Status", "Adjustments"}, rows)
				return nil
			})
		},
	}
	list.Flags().StringVar(&quarter, "quarter", "", "quarter filter")
	list.Flags().StringVar(&cycle, "cycle", "", "planning cycle filter")
	sc.AddCommand(list)

	sc.AddCommand(&cobra.Command{
		Use:   "simulate <id>",
		Short: "Run the feasibility simulation and store its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				_, res, err := e.SimulateScenario(ctx, tenantID, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("fitting: %s\n", strings.Join(res.Result.Fitting, ", "))
				fmt.Printf("overflowing: %s\n", strings.Join(res.Result.Overflowing, ", "))
				for _, c := range res.Result.Comments {
					fmt.Println("-", c)
				}
				return nil
			})
		},
	})
	for _, action := range []struct {
		name string
		run  func(engine.Engine, context.Context, string, string, string) (domain.ScenarioRecord, error)
	}{
		{"publish", engine.Engine.PublishScenario},
		{"archive", engine.Engine.ArchiveScenario},
	} {
		sc.AddCommand(&cobra.Command{
			Use:   action.name + " <id>",
			Short: action.name + " a scenario",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
					rec, err := action.run(e, ctx, tenantID, args[0], actorID())
					if err != nil {
						return err
					}
					return printJSON(rec)
				})
			},
		})
	}
	return sc
}

// parseAdjustments reads SQUAD=DELTA pairs; a trailing % is optional.
func parseAdjustments(items []string) ([]domain.SquadAdjustment, error) {
	out := make([]domain.SquadAdjustment, 0, len(items))
	for _, item := range items {
		squad, delta, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(squad) == "" {
			return nil, fmt.Errorf("invalid adjustment %q (want SQUAD=DELTA)", item)
		}
		var v float64
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimSpace(delta), "%"), "%g", &v); err != nil {
			return nil, fmt.Errorf("invalid adjustment %q: %w", item, err)
		}
		out = append(out, domain.SquadAdjustment{SquadID: strings.TrimSpace(squad), DeltaPercent: v})
	}
	return out, nil
}

func commitCmd() *cobra.Command {
	c := &cobra.Command{Use: "commit", Short: "Quarter commitments per product"}

	var opts engine.CommitmentSaveOptions
	save := &cobra.Command{
		Use:   "save <product> <quarter>",
		Short: "Save the committed, targeted and aspirational epics",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				opts.TenantID, opts.ProductID, opts.Quarter, opts.ActorID = tenantID, args[0], args[1], actorID()
				view, err := e.SaveCommitment(ctx, opts)
				if err != nil {
					return err
				}
				return printJSON(view)
			})
		},
	}
	save.Flags().StringVar(&opts.PlanningCycleID, "cycle", "", "planning cycle id")
	save.Flags().StringSliceVar(&opts.Committed, "committed", nil, "committed epic ids")
	save.Flags().StringSliceVar(&opts.Targeted, "targeted", nil, "targeted epic ids")
	save.Flags().StringSliceVar(&opts.Aspirational, "aspirational", nil, "aspirational epic ids")
	c.AddCommand(save)

	c.AddCommand(&cobra.Command{
		Use:   "show <product> <quarter>",
		Short: "Show a commitment with its tiers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				view, err := e.GetCommitment(ctx, tenantID, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				rows := make([]table.Row, 0, len(view.Tiers))
				for _, t := range view.Tiers {
					rows = append(rows, table.Row{t.Tier.Label(), strings.Join(t.EpicIDs, ", ")})
				}
				renderTable(table.Row{"Tier", "Epics"}, rows)
				return nil
			})
		},
	})
	return c
}

func reportCmd() *cobra.Command {
	var quarter string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Quarter planning report: capacity, alerts, hints, commitments, cycles and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				rep, err := e.PlanningReport(ctx, tenantID, quarter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				fmt.Printf("Tenant %s, %s\n\n", rep.TenantID, rep.Quarter)
				rows := make([]table.Row, 0, len(rep.Capacity))
				for _, c := range rep.Capacity {
					rows = append(rows, table.Row{c.SquadID, c.TotalCapacity, c.UsedCapacity, fmt.Sprintf("%.1f%%", c.UtilizationPercent())})
				}
				renderTable(table.Row{"Squad", "Total", "Used", "Utilization"}, rows)
				for _, a := range rep.Alerts {
					fmt.Printf("alert: %s\n", a.Message)
				}
				for _, h := range rep.Hints {
					fmt.Printf("hint: %s\n", h.Message)
				}
				fmt.Printf("\n%d commitments, %d cycles, %d dependencies\n", len(rep.Commitments), len(rep.Cycles), len(rep.Dependencies))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&quarter, "quarter", "", "quarter")
	_ = cmd.MarkFlagRequired("quarter")
	return cmd
}
