package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/app"
	"fieldline/internal/assign"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/repo"
	"fieldline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fsd",
	Short: "Fieldline dispatch CLI",
	Long: `Fieldline routes field-service complaints to technicians and enforces
SLA deadlines with automatic penalties on breach.
- Workspace: the .fieldline directory holding the database; config lives in fieldline.yml.
- Complaints flow open -> in_progress -> resolved/closed.
- Assignment resolves a service area, ranks available technicians by workload, and
  commits exactly one winner even under concurrent requests.
- Each assignment starts an SLA timer (urgent=2h, high=8h, medium=24h, low=72h by default).
- The monitor sweeps for breached deadlines and creates/applies penalties; penalties
  can be waived by an operator.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-operator", "actor identifier")
	rootCmd.PersistentFlags().String("company", "", "company id (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("company", rootCmd.PersistentFlags().Lookup("company"))
}

func registerCommands() {
	rootCmd.AddCommand(complaintCmd())
	rootCmd.AddCommand(areaCmd())
	rootCmd.AddCommand(technicianCmd())
	rootCmd.AddCommand(customerCmd())
	rootCmd.AddCommand(penaltyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(serveCmd())
}

func complaintCmd() *cobra.Command {
	c := &cobra.Command{Use: "complaint", Short: "Manage complaints"}
	c.AddCommand(complaintCreateCmd())
	c.AddCommand(complaintListCmd())
	c.AddCommand(complaintShowCmd())
	c.AddCommand(complaintAssignCmd())
	c.AddCommand(complaintReassignCmd())
	c.AddCommand(complaintCloseCmd())
	return c
}

func complaintCreateCmd() *cobra.Command {
	var customerID, title, desc, address, district, areaID, priority string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create complaint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if priority == "" {
					priority = domain.PriorityMedium
				}
				c := domain.Complaint{
					ID:          uuid.NewString(),
					CompanyID:   a.Config.Company.ID,
					CustomerID:  customerID,
					Title:       title,
					Description: desc,
					Address:     address,
					District:    district,
					AreaID:      optionalString(areaID),
					Priority:    priority,
					Status:      domain.StatusOpen,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := a.Repo.CreateComplaint(ctx, c); err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&customerID, "customer", "", "customer id")
	cmd.Flags().StringVar(&title, "title", "", "complaint title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&address, "address", "", "street address")
	cmd.Flags().StringVar(&district, "district", "", "district name")
	cmd.Flags().StringVar(&areaID, "area", "", "explicit area id")
	cmd.Flags().StringVar(&priority, "priority", "", "low|medium|high|urgent")
	return cmd
}

func complaintListCmd() *cobra.Command {
	var f repo.ComplaintFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List complaints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if f.CompanyID == "" {
					f.CompanyID = a.Config.Company.ID
				}
				items, err := a.Repo.ListComplaints(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Status", "Assignee", "SLA", "Deadline"})
				for _, c := range items {
					tw.AppendRow(table.Row{
						c.ID, c.Title, c.Priority, c.Status,
						strOrEmpty(c.AssigneeID), c.SLAStatus, strOrEmpty(c.SLADeadline),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.SLAStatus, "sla-status", "", "sla status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.AreaID, "area", "", "area filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func complaintShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <complaint-id>",
		Short: "Show complaint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.GetComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func complaintAssignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign <complaint-id>",
		Short: "Auto-assign complaint to the best available technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Coord.Assign(ctx, args[0])
				if err != nil {
					return err
				}
				if out.RequiresManualAssignment {
					fmt.Printf("manual assignment required: %s\n", out.Reason)
					if out.SuggestedArea != nil {
						fmt.Printf("suggested area: %s (%s)\n", out.SuggestedArea.Name, out.SuggestedArea.ID)
					}
					return nil
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func complaintReassignCmd() *cobra.Command {
	var technicianID string
	cmd := &cobra.Command{
		Use:   "reassign <complaint-id>",
		Short: "Manually assign or move a complaint to a technician",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if technicianID == "" {
				return fmt.Errorf("--technician required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Coord.Reassign(ctx, args[0], technicianID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&technicianID, "technician", "", "technician id")
	return cmd
}

func complaintCloseCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "close <complaint-id>",
		Short: "Close complaint and settle its SLA status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Repo.GetComplaint(ctx, args[0])
				if err != nil {
					return err
				}
				now := time.Now().UTC().Format(time.RFC3339)
				closed, err := a.Repo.CloseComplaint(ctx, c.ID, status, now)
				if err != nil {
					return err
				}
				if !closed {
					return fmt.Errorf("complaint %s is not open", c.ID)
				}
				if c.AssigneeID != nil {
					a.Workloads.RecordDelta(*c.AssigneeID, -1)
				}
				if c.SLADeadline != nil {
					if err := a.SLA.CheckStatus(ctx, c.ID); err != nil {
						return err
					}
				}
				c, err = a.Repo.GetComplaint(ctx, c.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.StatusResolved, "resolved|closed")
	return cmd
}

func areaCmd() *cobra.Command {
	c := &cobra.Command{Use: "area", Short: "Manage service areas"}
	c.AddCommand(areaCreateCmd())
	c.AddCommand(areaListCmd())
	c.AddCommand(areaTechniciansCmd())
	return c
}

func areaCreateCmd() *cobra.Command {
	var name, code, city, district, managerID string
	var lat, lon float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create area",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				ar := domain.Area{
					ID:        uuid.NewString(),
					CompanyID: a.Config.Company.ID,
					Name:      name,
					Code:      code,
					City:      city,
					District:  district,
					ManagerID: optionalString(managerID),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lon") {
					ar.Latitude = &lat
					ar.Longitude = &lon
				}
				if err := a.Repo.CreateArea(ctx, ar); err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "area name")
	cmd.Flags().StringVar(&code, "code", "", "short code")
	cmd.Flags().StringVar(&city, "city", "", "city")
	cmd.Flags().StringVar(&district, "district", "", "district")
	cmd.Flags().StringVar(&managerID, "manager", "", "area manager id")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lon, "lon", 0, "longitude")
	return cmd
}

func areaListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List areas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Repo.ListAreas(ctx, a.Config.Company.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Code", "City", "District"})
				for _, ar := range items {
					tw.AppendRow(table.Row{ar.ID, ar.Name, ar.Code, ar.City, ar.District})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func areaTechniciansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "technicians <area-id>",
		Short: "Available technicians in an area, ranked best first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				candidates, err := a.Coord.AvailableTechnicians(ctx, a.Config.Company.ID, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(candidates)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Score", "Active", "Today", "Capacity"})
				for _, c := range candidates {
					tw.AppendRow(table.Row{
						c.Technician.ID, c.Technician.Name, fmt.Sprintf("%.1f", c.Score),
						c.Workload.ActiveCount, c.Workload.TodayCount, c.Workload.Capacity,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func technicianCmd() *cobra.Command {
	c := &cobra.Command{Use: "technician", Short: "Manage technicians"}
	c.AddCommand(technicianCreateCmd())
	c.AddCommand(technicianListCmd())
	c.AddCommand(technicianWorkloadCmd())
	return c
}

func technicianCreateCmd() *cobra.Command {
	var name, areaID, phone string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create technician",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || areaID == "" {
				return fmt.Errorf("--name and --area required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t := domain.Technician{
					ID:        uuid.NewString(),
					CompanyID: a.Config.Company.ID,
					AreaID:    areaID,
					Name:      name,
					Phone:     phone,
					Active:    true,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Repo.CreateTechnician(ctx, t); err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "technician name")
	cmd.Flags().StringVar(&areaID, "area", "", "home area id")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number")
	return cmd
}

func technicianListCmd() *cobra.Command {
	var f repo.TechnicianFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List technicians",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if f.CompanyID == "" {
					f.CompanyID = a.Config.Company.ID
				}
				items, err := a.Repo.ListTechnicians(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Area", "Active"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.AreaID, t.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.AreaID, "area", "", "area filter")
	cmd.Flags().BoolVar(&f.ActiveOnly, "active", false, "active only")
	return cmd
}

func technicianWorkloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload <technician-id>",
		Short: "Show technician workload snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Repo.GetTechnician(ctx, args[0]); err != nil {
					return err
				}
				w, err := a.Workloads.GetWorkload(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(w)
			})
		},
	}
	return cmd
}

func customerCmd() *cobra.Command {
	c := &cobra.Command{Use: "customer", Short: "Manage customers"}
	var name, address, areaID string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create customer",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cust := domain.Customer{
					ID:        uuid.NewString(),
					CompanyID: a.Config.Company.ID,
					Name:      name,
					Address:   address,
					AreaID:    optionalString(areaID),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := a.Repo.CreateCustomer(ctx, cust); err != nil {
					return err
				}
				return printJSONOrTable(cust)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "customer name")
	create.Flags().StringVar(&address, "address", "", "street address")
	create.Flags().StringVar(&areaID, "area", "", "home area id")
	c.AddCommand(create)
	return c
}

func penaltyCmd() *cobra.Command {
	c := &cobra.Command{Use: "penalty", Short: "Manage SLA penalties"}
	c.AddCommand(penaltyListCmd())
	c.AddCommand(penaltyApplyCmd())
	c.AddCommand(penaltyWaiveCmd())
	return c
}

func penaltyListCmd() *cobra.Command {
	var f repo.PenaltyFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List penalties",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if f.CompanyID == "" {
					f.CompanyID = a.Config.Company.ID
				}
				items, err := a.Repo.ListPenalties(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Complaint", "Technician", "Amount", "Status", "Breach (h)"})
				for _, p := range items {
					tw.AppendRow(table.Row{
						p.ID, p.ComplaintID, p.TechnicianID,
						fmt.Sprintf("%.2f", p.Amount), p.Status,
						fmt.Sprintf("%.1f", p.BreachDurationHours),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.ComplaintID, "complaint", "", "complaint filter")
	cmd.Flags().StringVar(&f.TechnicianID, "technician", "", "technician filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func penaltyApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <penalty-id>",
		Short: "Apply a pending penalty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.SLA.ApplyPenalty(ctx, args[0]); err != nil {
					return err
				}
				p, err := a.Repo.GetPenalty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func penaltyWaiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "waive <penalty-id>",
		Short: "Waive a pending penalty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.SLA.WaivePenalty(ctx, args[0], viper.GetString("actor-id"), reason); err != nil {
					return err
				}
				p, err := a.Repo.GetPenalty(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "waiver reason")
	return cmd
}

func statsCmd() *cobra.Command {
	c := &cobra.Command{Use: "stats", Short: "Assignment and SLA statistics"}
	var areaID string
	assignments := &cobra.Command{
		Use:   "assignments",
		Short: "Assignment statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				stats, err := a.Repo.GetAssignmentStats(ctx, a.Config.Company.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(stats)
			})
		},
	}
	slaStats := &cobra.Command{
		Use:   "sla",
		Short: "SLA compliance statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Repo.GetSLAStats(ctx, a.Config.Company.ID, areaID)
				if err != nil {
					return err
				}
				report.GeneratedAt = time.Now().UTC().Format(time.RFC3339)
				return printJSONOrTable(report)
			})
		},
	}
	slaStats.Flags().StringVar(&areaID, "area", "", "restrict to one area")
	c.AddCommand(assignments)
	c.AddCommand(slaStats)
	return c
}

func monitorCmd() *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the SLA monitor sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if once {
					a.Monitor.RunBreachSweep(ctx)
					a.Monitor.RunPenaltySweep(ctx)
					a.Monitor.RunReportSweep(ctx)
					return nil
				}
				fmt.Printf("monitor: breach every %s, penalties every %s, reports every %s\n",
					a.Config.Monitor.BreachInterval.Std(),
					a.Config.Monitor.PenaltyInterval.Std(),
					a.Config.Monitor.ReportInterval.Std())
				a.Monitor.Start(ctx)
				<-ctx.Done()
				a.Monitor.Stop()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run each sweep once and exit")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server with the SLA monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{
				Workspace: viper.GetString("workspace"),
				CompanyID: viper.GetString("company"),
				Auth:      server.PrincipalAuthorizer{},
			})
			if err != nil {
				return err
			}
			defer a.Close()

			authCfg := server.AuthConfig{JWTSecret: os.Getenv("FIELDLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("FIELDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{App: a, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}

			a.Monitor.Start(cmd.Context())
			defer a.Monitor.Stop()

			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Fieldline API on http://%s%s (metrics at /metrics)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(app.Options{
		Workspace: viper.GetString("workspace"),
		CompanyID: viper.GetString("company"),
		Auth:      assign.AllowAll{},
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
