package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"slnforge/internal/app"
	"slnforge/internal/config"
	"slnforge/internal/domain"
	"slnforge/internal/planner"
	slnforgesdk "slnforge/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "slnforge",
	Short: "slnforge scaffolds multi-project microservice solutions",
	Long: `slnforge turns a solution request (services, gateways, apps, auth server)
into a directory tree of project manifests, solution indexes and starter
files, registering every project with the dotnet CLI.

Generations run as asynchronous jobs. Run them locally with 'generate', or
start the HTTP API with 'serve' and drive it with --remote.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SLNFORGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", config.Path("."), "config file")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("remote", "", "slnforge API base URL (e.g. http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().String("output-root", "", "directory generated solutions are written to")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"config", "json", "remote", "output-root", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(portCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if basePath != "" {
				cfg.Server.BasePath = basePath
			}
			rt, err := app.Build(cfg, app.Options{LogOutput: os.Stderr, Background: true})
			if err != nil {
				return err
			}
			if err := rt.CheckTool(cmd.Context()); err != nil {
				rt.Logger.Warn("dotnet check failed; generations will fail until it is installed", "error", err)
			}
			ln, err := net.Listen("tcp", cfg.Server.Addr)
			if err != nil {
				_ = rt.Close(cmd.Context())
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Printf("Serving slnforge API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n",
				ln.Addr(), cfg.Server.BasePath, cfg.Server.BasePath)
			return rt.Serve(ctx, ln)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func generateCmd() *cobra.Command {
	var file string
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a solution from a request file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote := viper.GetString("remote"); remote != "" {
				var req slnforgesdk.SolutionRequest
				if err := readRequest(file, &req); err != nil {
					return err
				}
				client := slnforgesdk.New(remote)
				job, err := client.StartGeneration(cmd.Context(), req)
				if err != nil {
					return err
				}
				if wait {
					job, err = client.WaitForCompletion(cmd.Context(), job.ID, 500*time.Millisecond)
					if err != nil {
						return err
					}
				}
				return printJob(job)
			}

			var req domain.SolutionRequest
			if err := readRequest(file, &req); err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			rt, err := app.Build(cfg, app.Options{LogOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = rt.Close(ctx)
			}()
			if err := rt.CheckTool(cmd.Context()); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			job := rt.Engine.StartGeneration(ctx, req)
			last := -1
			for !job.Status.Terminal() {
				if job.Progress != last && !viper.GetBool("json") {
					fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", job.Progress, job.CurrentStep)
					last = job.Progress
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
				if job, err = rt.Engine.GetStatus(job.ID); err != nil {
					return err
				}
			}
			if err := printJob(toSDKJob(job)); err != nil {
				return err
			}
			if job.Status != domain.JobCompleted {
				return fmt.Errorf("generation %s: %s", job.Status, job.Message)
			}
			if !viper.GetBool("json") {
				fmt.Printf("Output: %s\n", filepath.Join(cfg.Output.Root, job.ID, job.SolutionName))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "request file (YAML or JSON)")
	cmd.Flags().BoolVar(&wait, "wait", false, "with --remote, poll until the job finishes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the projects a request would produce",
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote := viper.GetString("remote"); remote != "" {
				var req slnforgesdk.SolutionRequest
				if err := readRequest(file, &req); err != nil {
					return err
				}
				plan, err := slnforgesdk.New(remote).Plan(cmd.Context(), req)
				if err != nil {
					return err
				}
				return printPlan(plan)
			}
			var req domain.SolutionRequest
			if err := readRequest(file, &req); err != nil {
				return err
			}
			plan, warnings := planner.Build(req)
			out := slnforgesdk.Plan{
				SolutionName: plan.SolutionName,
				CompanyName:  plan.CompanyName,
				MainIndex:    planner.MainIndexName(plan.SolutionName),
				Valid:        true,
			}
			for _, p := range plan.Projects() {
				out.Projects = append(out.Projects, slnforgesdk.Project{
					Unit:         p.Unit,
					UnitKind:     string(p.UnitKind),
					Kind:         string(p.Kind),
					Name:         p.Name,
					SubArea:      p.SubArea,
					Folder:       p.Folder,
					ManifestPath: p.ManifestPath,
					Port:         p.Port,
				})
			}
			out.ProjectCount = len(out.Projects)
			for _, w := range warnings {
				out.Warnings = append(out.Warnings, w.Error())
			}
			var verr *domain.ValidationError
			if err := planner.ValidateRequest(req.Normalize()); errors.As(err, &verr) {
				out.Valid = false
				for _, is := range verr.Issues {
					out.Issues = append(out.Issues, slnforgesdk.FieldIssue{Field: is.Field, Reason: is.Reason})
				}
			}
			return printPlan(out)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "request file (YAML or JSON)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func statusCmd() *cobra.Command {
	var filter string
	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show one job, or list jobs on the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				job, err := client.GetGeneration(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(job)
			}
			jobs, err := client.ListGenerations(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(jobs)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Solution", "Status", "Progress", "Step", "Created"})
			for _, j := range jobs {
				tw.AppendRow(table.Row{j.ID, j.SolutionName, j.Status, fmt.Sprintf("%d%%", j.Progress), j.CurrentStep, j.CreatedAt})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "status", "", "filter by status")
	return cmd
}

func downloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a completed generation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := remoteClient()
			if err != nil {
				return err
			}
			art, err := client.Download(cmd.Context(), args[0])
			if slnforgesdk.IsNotReady(err) {
				return fmt.Errorf("job %s has not completed yet", args[0])
			}
			if err != nil {
				return err
			}
			target := out
			if target == "" {
				target = art.FileName
			}
			if target == "" || target == "-" {
				_, err := os.Stdout.Write(art.Data)
				return err
			}
			if err := os.WriteFile(target, art.Data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes, %s)\n", target, len(art.Data), art.ContentType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (- for stdout)")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "validate", Short: "Check names against the naming rules"}
	check := func(use, short string, fn func(string) bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <name>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				valid := fn(args[0])
				if viper.GetBool("json") {
					return printJSON(map[string]any{"name": args[0], "valid": valid})
				}
				if !valid {
					return fmt.Errorf("%q is not a valid %s name", args[0], use)
				}
				fmt.Printf("%q is valid\n", args[0])
				return nil
			},
		}
	}
	cmd.AddCommand(check("solution", "Check a solution name", planner.ValidateSolutionName))
	cmd.AddCommand(check("unit", "Check a service, gateway or app name", planner.ValidateUnitName))
	return cmd
}

func portCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "port", Short: "Port helpers"}
	var exclude []string
	next := &cobra.Command{
		Use:   "next",
		Short: "Print the first free port",
		RunE: func(cmd *cobra.Command, args []string) error {
			var taken []int
			for _, raw := range exclude {
				for _, part := range strings.Split(raw, ",") {
					part = strings.TrimSpace(part)
					if part == "" {
						continue
					}
					p, err := strconv.Atoi(part)
					if err != nil {
						return fmt.Errorf("invalid port %q", part)
					}
					taken = append(taken, p)
				}
			}
			port := planner.NextAvailablePort(taken)
			if viper.GetBool("json") {
				return printJSON(map[string]int{"port": port})
			}
			fmt.Println(port)
			return nil
		},
	}
	next.Flags().StringSliceVar(&exclude, "exclude", nil, "ports to skip (repeat or comma-separate)")
	cmd.AddCommand(next)
	return cmd
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Config helpers"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "default",
		Short: "Print the default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Print(config.GenerateDefault())
			return nil
		},
	})
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"valid": true, "path": path, "output_root": cfg.Output.Root})
			}
			fmt.Printf("%s is valid\n", path)
			return nil
		},
	})
	return cfgCmd
}

// --- helpers ---

// loadConfig reads the config file, if any, then applies flag and
// SLNFORGE_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("output-root"); v != "" {
		cfg.Output.Root = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := viper.GetString("tool-exec-path"); v != "" {
		cfg.Tool.ExecPath = v
	}
	if viper.IsSet("workers") {
		cfg.Workers.Count = viper.GetInt("workers")
	}
	if viper.IsSet("archive") {
		cfg.Output.Archive = viper.GetBool("archive")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func remoteClient() (*slnforgesdk.Client, error) {
	remote := viper.GetString("remote")
	if remote == "" {
		return nil, errors.New("jobs live in the server; pass --remote or set SLNFORGE_REMOTE")
	}
	return slnforgesdk.New(remote), nil
}

// readRequest decodes a YAML or JSON request file; "-" reads stdin.
func readRequest(path string, out any) error {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func toSDKJob(j domain.GenerationJob) slnforgesdk.Job {
	return slnforgesdk.Job{
		ID:             j.ID,
		SolutionName:   j.SolutionName,
		Status:         string(j.Status),
		Progress:       j.Progress,
		CurrentStep:    j.CurrentStep,
		Message:        j.Message,
		CreatedAt:      j.CreatedAt,
		CompletedAt:    j.CompletedAt,
		GeneratedFiles: j.GeneratedFiles,
		Errors:         j.Errors,
		DownloadURL:    j.DownloadURL,
		FileSizeBytes:  j.FileSizeBytes,
	}
}

func printJob(j slnforgesdk.Job) error {
	if viper.GetBool("json") {
		return printJSON(j)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendRow(table.Row{"ID", j.ID})
	tw.AppendRow(table.Row{"Solution", j.SolutionName})
	tw.AppendRow(table.Row{"Status", j.Status})
	tw.AppendRow(table.Row{"Progress", fmt.Sprintf("%d%%", j.Progress)})
	tw.AppendRow(table.Row{"Step", j.CurrentStep})
	if j.Message != "" {
		tw.AppendRow(table.Row{"Message", j.Message})
	}
	tw.AppendRow(table.Row{"Files", len(j.GeneratedFiles)})
	if j.DownloadURL != "" {
		tw.AppendRow(table.Row{"Download", j.DownloadURL})
	}
	tw.Render()
	for _, e := range j.Errors {
		fmt.Println("  !", e)
	}
	return nil
}

func printPlan(p slnforgesdk.Plan) error {
	if viper.GetBool("json") {
		return printJSON(p)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(fmt.Sprintf("%s (%d projects)", p.MainIndex, p.ProjectCount))
	tw.AppendHeader(table.Row{"Unit", "Kind", "Project", "Folder", "Port"})
	for _, pr := range p.Projects {
		port := ""
		if pr.Port != 0 {
			port = strconv.Itoa(pr.Port)
		}
		tw.AppendRow(table.Row{pr.Unit, pr.Kind, pr.Name, pr.Folder, port})
	}
	tw.Render()
	for _, w := range p.Warnings {
		fmt.Println("warning:", w)
	}
	for _, is := range p.Issues {
		fmt.Printf("invalid: %s: %s\n", is.Field, is.Reason)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
