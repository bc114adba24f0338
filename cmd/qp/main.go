package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quarterplan/internal/app"
	"quarterplan/internal/config"
	"quarterplan/internal/db"
	"quarterplan/internal/engine"
	"quarterplan/internal/logging"
	"quarterplan/internal/migrate"
	"quarterplan/internal/repo"
	"quarterplan/internal/server"
	"quarterplan/internal/telemetry"
)

const version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "qp",
	Short: "Quarterplan CLI",
	Long: `Quarterplan keeps a quarter's delivery plan honest.
- Squads report capacity per quarter; overloads above the threshold raise alerts.
- Epics group features; features carry estimates and depend on each other.
- Planning cycles walk a quarter through its phases, one active cycle at a time.
- Scenarios try capacity adjustments and tell which epics still fit.
- Commitments tier a product's epics into committed, targeted and aspirational.
- Every change lands in the event log: qp log tail.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.StringP("tenant", "t", "", "tenant id (defaults to the only tenant in the workspace)")
	flags.String("log-level", "WARN", "log level")
	for _, name := range []string{"workspace", "json", "actor-id", "tenant", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(squadCmd())
	rootCmd.AddCommand(capacityCmd())
	rootCmd.AddCommand(epicCmd())
	rootCmd.AddCommand(featureCmd())
	rootCmd.AddCommand(depCmd())
	rootCmd.AddCommand(cycleCmd())
	rootCmd.AddCommand(scenarioCmd())
	rootCmd.AddCommand(commitCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string { return viper.GetString("actor-id") }

func tenantCmd() *cobra.Command {
	t := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	t.AddCommand(tenantInitCmd())
	t.AddCommand(tenantDeleteCmd())
	t.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBareEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, it := range items {
					rows = append(rows, table.Row{it.ID, it.Name, it.CreatedAt})
				}
				renderTable(table.Row{"ID", "Name", "Created"}, rows)
				return nil
			})
		},
	})
	return t
}

func tenantInitCmd() *cobra.Command {
	var id, name, configPath string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a tenant; the acting user becomes its owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg *config.Config
			if configPath != "" {
				loaded, err := config.FromFile(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return withBareEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.InitTenant(ctx, engine.TenantInitOptions{
					ID:      id,
					Name:    name,
					Config:  cfg,
					OwnerID: actorID(),
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				return printJSON(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&configPath, "config", "", "YAML or TOML config to seed the tenant with")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantDeleteCmd() *cobra.Command {
	var id string
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a tenant and all of its planning data",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete tenant %s without --yes", id)
			}
			return withBareEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Auth.Require(ctx, id, actorID(), "tenant.delete"); err != nil {
					return err
				}
				if err := e.DeleteTenant(ctx, id, actorID()); err != nil {
					return err
				}
				fmt.Printf("tenant %s deleted\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Tenant config (catalog, thresholds, roles, webhooks)"}
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the tenant config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				cfg, err := e.TenantConfig(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				out, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				fmt.Print(string(out))
				return nil
			})
		},
	})
	c.AddCommand(configImportCmd())
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the stored tenant config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				cfg, err := e.TenantConfig(ctx, tenantID)
				if err != nil {
					return err
				}
				return cfg.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return c
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a YAML or TOML config into the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if viper.GetString("tenant") == "" && cfg.Tenant.ID != "" {
				viper.Set("tenant", cfg.Tenant.ID)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				if err := e.ImportTenantConfig(ctx, tenantID, cfg, actorID()); err != nil {
					return err
				}
				fmt.Printf("config imported into %s\n", tenantID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to config file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				f.TenantID = tenantID
				items, err := e.ListEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				rows := make([]table.Row, 0, len(items))
				for _, evt := range items {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind, evt.EntityID, evt.ActorID})
				}
				renderTable(table.Row{"ID", "At", "Type", "Kind", "Entity", "Actor"}, rows)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	r := &cobra.Command{Use: "rbac", Short: "Roles and permissions"}
	r.AddCommand(&cobra.Command{
		Use:   "whoami",
		Short: "Show the acting user's roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				roles, perms, err := e.ActorAccess(ctx, tenantID, actorID())
				if err != nil {
					return err
				}
				return printJSON(map[string]any{"actor_id": actorID(), "tenant_id": tenantID, "roles": roles, "permissions": perms})
			})
		},
	})
	for _, action := range []struct {
		name string
		run  func(engine.Engine, context.Context, string, string, string, string) error
	}{
		{"grant", engine.Engine.GrantRole},
		{"revoke", engine.Engine.RevokeRole},
	} {
		var actor, role string
		cmd := &cobra.Command{
			Use:   action.name,
			Short: action.name + " a role",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
					if err := e.Auth.Require(ctx, tenantID, actorID(), "rbac.manage"); err != nil {
						return err
					}
					if err := action.run(e, ctx, tenantID, actor, role, actorID()); err != nil {
						return err
					}
					fmt.Printf("%s %s: %s on %s\n", action.name, role, actor, tenantID)
					return nil
				})
			},
		}
		cmd.Flags().StringVar(&actor, "actor", "", "target actor id")
		cmd.Flags().StringVar(&role, "role", "", "role id")
		_ = cmd.MarkFlagRequired("actor")
		_ = cmd.MarkFlagRequired("role")
		r.AddCommand(cmd)
	}
	r.AddCommand(apiKeyCmd())
	return r
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "API keys of the acting user on the tenant"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key; it is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				if err := e.Auth.Require(ctx, tenantID, actorID(), "tenant.read"); err != nil {
					return err
				}
				key, plain, err := e.CreateAPIKey(ctx, tenantID, actorID(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "tenant_id": key.TenantID, "key": plain})
				}
				fmt.Printf("key %s for %s on %s:\n%s\n", key.ID, key.ActorID, key.TenantID, plain)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	k.AddCommand(create)
	k.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				keys, err := e.ListAPIKeys(ctx, tenantID, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				rows := make([]table.Row, 0, len(keys))
				for _, key := range keys {
					lastUsed := "-"
					if key.LastUsedAt != nil {
						lastUsed = *key.LastUsedAt
					}
					rows = append(rows, table.Row{key.ID, key.Name, key.CreatedAt, lastUsed})
				}
				renderTable(table.Row{"ID", "Name", "Created", "Last used"}, rows)
				return nil
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, tenantID string) error {
				if err := e.RevokeAPIKey(ctx, tenantID, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("key %s revoked\n", args[0])
				return nil
			})
		},
	})
	return k
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := config.LoadServerEnv()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				env.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				env.BasePath = basePath
			}
			if env.JWTSecret == "" && !env.AllowLegacyActor {
				return errors.New("QP_JWT_SECRET is required for bearer auth")
			}
			logger := logging.New(logging.Options{Level: env.LogLevel, Format: env.LogFormat})
			ctx := cmd.Context()
			shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
				Enabled:     env.OTelEnabled,
				Stdout:      env.OTelStdout,
				ServiceName: "quarterplan",
				Version:     version,
			})
			if err != nil {
				return err
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
				defer cancel()
				if err := shutdownTelemetry(sctx); err != nil {
					logger.Warn("telemetry shutdown", "error", err)
				}
			}()

			e, closeDB, err := openEngine(ctx, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer closeDB()
			e.Logger = logger

			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: env.BasePath,
				Logger:   logger,
				Auth:     server.AuthConfig{JWTSecret: env.JWTSecret, AllowLegacyActorHeader: env.AllowLegacyActor, Logger: logger},
			})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(ctx, e, env.WebhookInterval, logger)

			srv := &http.Server{Addr: env.Addr, Handler: handler, ReadHeaderTimeout: env.ReadHeaderTimeout}
			go func() {
				<-ctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
				defer cancel()
				_ = srv.Shutdown(sctx)
			}()
			logger.Info("serving quarterplan API", "addr", env.Addr, "base_path", env.BasePath, "docs", env.BasePath+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address (QP_ADDR)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path (QP_BASE_PATH)")
	return cmd
}

// openEngine opens and migrates the workspace database. The fallback config
// is the workspace quarterplan.yml when present.
func openEngine(ctx context.Context, workspace string) (engine.Engine, func(), error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	closeFn := func() { conn.Close() }
	if err := migrate.CheckCompatible(ctx, conn); err != nil {
		closeFn()
		return engine.Engine{}, nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		closeFn()
		return engine.Engine{}, nil, err
	}
	fallback := config.Default(viper.GetString("tenant"))
	if _, err := os.Stat(config.Path(workspace)); err == nil {
		if fallback, err = config.Load(workspace); err != nil {
			closeFn()
			return engine.Engine{}, nil, err
		}
	}
	e, err := engine.New(conn, fallback)
	if err != nil {
		closeFn()
		return engine.Engine{}, nil, err
	}
	e.Logger = logging.New(logging.Options{Level: viper.GetString("log-level"), Format: "text"})
	if err := e.LoadTenantCatalogs(ctx); err != nil {
		closeFn()
		return engine.Engine{}, nil, err
	}
	return e, closeFn, nil
}

func withBareEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withBareEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		tenantID, _, err := app.ResolveTenantAndConfig(ctx, e, viper.GetString("tenant"), actorID())
		if err != nil {
			return err
		}
		return fn(ctx, e, tenantID)
	})
}

func renderTable(header table.Row, rows []table.Row) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func optionalFloat(cmd *cobra.Command, flag string, value float64) *float64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
