package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/webpilot-org/webpilot/internal/agent"
	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/browser/cdp"
	"github.com/webpilot-org/webpilot/internal/config"
	"github.com/webpilot-org/webpilot/internal/llm"
	"github.com/webpilot-org/webpilot/internal/logger"
	"github.com/webpilot-org/webpilot/internal/metrics"
	"github.com/webpilot-org/webpilot/internal/perception"
	"github.com/webpilot-org/webpilot/internal/planner"
	"github.com/webpilot-org/webpilot/internal/store"
)

// ErrInterrupted is returned when the run was cancelled by a signal.
// main maps it to exit code 130.
var ErrInterrupted = errors.New("interrupted")

// ErrGoalFailed is returned when the run finished but the goal was not
// achieved. main maps it to exit code 1 without an extra error print.
var ErrGoalFailed = errors.New("goal not achieved")

// CmdRun creates the run command, the main entry point: execute one
// natural-language goal against a browser.
func CmdRun() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run --url <URL> --task <DESCRIPTION>",
		Short: "Execute a web automation goal",
		Long: `Plan the given task into browser sub-tasks, execute them with
concurrent workers sharing one browser session, and print the result as JSON.

Example:
  webpilot run --url https://news.ycombinator.com --task "find the top story about Go"
`,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx, err := setup(c)
			if err != nil {
				return err
			}
			return runGoal(ctx)
		},
		SilenceUsage: true,
	}

	cmd.Flags().String("url", "", "starting URL")
	cmd.Flags().String("task", "", "goal to accomplish")
	cmd.Flags().Int("workers", 0, "maximum concurrent workers (overrides config)")
	cmd.Flags().Duration("timeout", 0, "global execution deadline (overrides config)")
	cmd.Flags().Bool("headless", false, "run a launched browser headless")
	cmd.Flags().String("plan", "", "execute a saved YAML plan instead of planning")
	cmd.Flags().String("save-plan", "", "write the executed plan to a YAML file")
	cmd.Flags().String("metrics-addr", "", "serve prometheus metrics on this address during the run")
	_ = cmd.MarkFlagRequired("task")
	return cmd
}

func runGoal(ctx *Context) error {
	task, err := ctx.StringParam("task")
	if err != nil {
		return err
	}
	url, _ := ctx.Command.Flags().GetString("url")
	applyRunFlags(ctx.Command, ctx.Config)

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if addr, _ := ctx.Command.Flags().GetString("metrics-addr"); addr != "" {
		go serveMetrics(ctx, addr, m)
	}

	provider, err := buildProvider(ctx.Config)
	if err != nil {
		return err
	}

	session, cleanup, err := openBrowser(sigCtx, ctx.Config)
	if err != nil {
		return err
	}
	defer cleanup()

	perceptor := perception.NewPerceptor(
		session,
		perception.NewClient(ctx.Config.Perception.ParserURL),
		perception.NewCache(ctx.Config.Perception.CacheTTL),
	)

	opts := []agent.Option{agent.WithMetrics(m)}
	if path := ctx.Config.Store.Path; path != "" {
		log, err := store.Open(path)
		if err != nil {
			return err
		}
		defer log.Close()
		opts = append(opts, agent.WithStore(log))
	}

	plan, err := resolvePlanFile(ctx.Command, task)
	if err != nil {
		return err
	}
	if plan != nil {
		opts = append(opts, agent.WithPlan(plan))
	}

	a := agent.New(*ctx.Config, provider, session, perceptor, opts...)
	result, err := a.ExecuteGoal(sigCtx, task, url)
	if sigCtx.Err() != nil {
		return ErrInterrupted
	}
	if err != nil {
		return err
	}

	if savePath, _ := ctx.Command.Flags().GetString("save-plan"); savePath != "" && plan != nil {
		if err := planner.SaveFile(savePath, plan); err != nil {
			logger.Warn(ctx, "Saving plan failed", "path", savePath, "err", err)
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	ctx.Command.Println(string(out))

	if !result.Success {
		return ErrGoalFailed
	}
	return nil
}

// applyRunFlags overlays explicit command-line flags onto the loaded
// configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if n, _ := cmd.Flags().GetInt("workers"); n > 0 {
		cfg.Workers = n
	}
	if d, _ := cmd.Flags().GetDuration("timeout"); d > 0 {
		cfg.Timeout = d
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless, _ = cmd.Flags().GetBool("headless")
	}
}

// resolvePlanFile loads the --plan file when given. A nil return with
// no error means the planner model decides.
func resolvePlanFile(cmd *cobra.Command, goal string) (*planner.StructuredPlan, error) {
	path, _ := cmd.Flags().GetString("plan")
	if path == "" {
		return nil, nil
	}
	plan, err := planner.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if plan.Goal == "" {
		plan.Goal = goal
	}
	return plan, nil
}

// buildProvider constructs the configured LLM provider, wrapping it in
// a response cache when one is configured.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	provider, err := llm.NewProvider(cfg.LLM.Provider, llm.NewConfig(
		llm.WithAPIKey(cfg.LLM.APIKey),
		llm.WithBaseURL(cfg.LLM.BaseURL),
		llm.WithTimeout(cfg.LLM.Timeout),
	))
	if err != nil {
		return nil, err
	}
	if ttl := cfg.LLM.Cache.TTL; ttl > 0 {
		var cache llm.Cache
		if addr := cfg.LLM.Cache.RedisAddr; addr != "" {
			cache = llm.NewRedisCache(addr, ttl)
		} else {
			cache = llm.NewMemoryCache(ttl)
		}
		provider = llm.NewCachingProvider(provider, cache)
	}
	return provider, nil
}

// openBrowser attaches to a running DevTools endpoint, or launches a
// browser first when a binary path is configured.
func openBrowser(ctx context.Context, cfg *config.Config) (*browser.Session, func(), error) {
	vp := browser.Viewport{
		Width:  cfg.Browser.Viewport.Width,
		Height: cfg.Browser.Viewport.Height,
	}

	devtoolsURL := cfg.Browser.DevToolsURL
	var proc *browser.Process
	if cfg.Browser.Path != "" {
		p, err := browser.Launch(ctx, browser.LaunchOptions{
			Path:     cfg.Browser.Path,
			Headless: cfg.Browser.Headless,
			Viewport: vp,
		})
		if err != nil {
			return nil, nil, err
		}
		proc = p
		devtoolsURL = p.DevToolsURL
	}

	drv, err := cdp.Connect(ctx, devtoolsURL, vp)
	if err != nil {
		if proc != nil {
			_ = proc.Stop()
		}
		return nil, nil, err
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = drv.Cleanup(shutdownCtx)
		if proc != nil {
			_ = proc.Stop()
		}
	}
	return browser.NewSession(drv), cleanup, nil
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info(ctx, "Serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn(ctx, "Metrics server stopped", "err", err)
	}
}
