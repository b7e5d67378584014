package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/imkarma/taskpilot/internal/agent"
	"github.com/imkarma/taskpilot/internal/config"
	"github.com/imkarma/taskpilot/internal/git"
	"github.com/imkarma/taskpilot/internal/hosting"
	"github.com/imkarma/taskpilot/internal/logging"
	"github.com/imkarma/taskpilot/internal/mailbox"
	"github.com/imkarma/taskpilot/internal/notify"
	"github.com/imkarma/taskpilot/internal/orchestrator"
	"github.com/imkarma/taskpilot/internal/prcycle"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// drive runs st to its next stopping point while holding the state lock.
// With resume set, the persisted record is reconciled with the host first.
func drive(ctx context.Context, states *state.Store, st *state.TaskState, resume bool) error {
	lock, err := states.AcquireLock(st.RunID)
	if err != nil {
		return err
	}
	defer lock.Release()

	cfg, err := loadConfig(states)
	if err != nil {
		return err
	}

	logger, err := logging.NewRunLogger(states.Dir(), st.RunID, logLevel(cfg, st))
	if err != nil {
		return err
	}
	defer logger.Close()

	db, err := store.New(states.Path(dbFile))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	o, err := build(ctx, cfg, states, st, db, logger)
	if err != nil {
		return err
	}

	logger.Info("run driven from cli", "resume", resume, "status", st.Status, "task_index", st.CurrentTaskIndex)
	if resume {
		err = o.Resume(ctx, st)
	} else {
		err = o.Run(ctx, st)
	}
	return outcome(ctx, st, err)
}

// build wires the orchestrator's collaborators from the config.
func build(ctx context.Context, cfg *config.Config, states *state.Store, st *state.TaskState, db *store.Store, logger *logging.Logger) (*orchestrator.Orchestrator, error) {
	workDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	if !agent.CLIAvailable(cfg.Agent.Cmd) {
		return nil, fmt.Errorf("agent CLI %q not found in PATH (set agent.cmd in %s)", cfg.Agent.Cmd, states.Path(config.FileName))
	}

	repo := git.New(workDir)
	pr := prcycle.ConfigFrom(cfg)
	if pr.BaseBranch == "" && repo.IsGitRepo() {
		if base, err := repo.BaseBranch(ctx); err == nil {
			pr.BaseBranch = base
		}
	}

	emitters := notify.Multi{notify.NewEventLog(db)}
	hooks := cfg.Webhooks
	if st.Options.WebhookURL != "" {
		hooks = append(hooks, config.Webhook{URL: st.Options.WebhookURL})
	}
	for _, h := range hooks {
		emitters = append(emitters, notify.NewWebhook(h))
	}

	d := orchestrator.Deps{
		Store:   states,
		Mailbox: mailbox.NewMerger(db),
		Events:  notify.NewDispatcher(emitters, logger),
		Logger:  logger,
		PR:      pr,
		Out:     os.Stdout,
	}

	var diff agent.DiffSource
	if repo.IsGitRepo() {
		d.Workspace = repo
		diff = repo
	}
	d.Agent = agent.NewCLIAgent(agent.NewCLIRunner(cfg.Agent), agent.NewBuilder(diff, pr.BaseBranch), workDir)

	if cfg.Hosting.Provider == "github" {
		if !repo.IsGitRepo() {
			return nil, fmt.Errorf("hosting provider github needs a git repository in %s", workDir)
		}
		d.Host = hosting.NewGitHub(workDir, cfg.Hosting.Remote, repo)
	}

	return orchestrator.New(d), nil
}

// outcome maps the finished run onto the process exit contract.
func outcome(ctx context.Context, st *state.TaskState, err error) error {
	stopped := st.Status == workflow.StatusBlocked && st.StatusReason == orchestrator.ReasonStopped
	if ctx.Err() != nil || stopped || (st.Status == workflow.StatusPaused && st.StatusReason == orchestrator.ReasonInterrupted) {
		word := "Interrupted."
		if stopped {
			word = "Stopped."
		}
		fmt.Printf("\n%s%s%s Resume with: %staskpilot resume%s\n", c(colorYellow), word, c(colorReset), c(colorCyan), c(colorReset))
		return &ExitError{Code: ExitInterrupt}
	}
	if err != nil {
		var inv *workflow.InvalidTransitionError
		if errors.As(err, &inv) {
			return &ExitError{Code: ExitFailure, Msg: fmt.Sprintf("invalid state transition: %v", err)}
		}
		return err
	}

	fmt.Println()
	printStatusLine(st)
	switch st.Status {
	case workflow.StatusSuccess:
		return nil
	case workflow.StatusPaused:
		fmt.Printf("Resume with: %staskpilot resume%s\n", c(colorCyan), c(colorReset))
		return nil
	case workflow.StatusBlocked, workflow.StatusFailed:
		return &ExitError{Code: ExitFailure, Msg: fmt.Sprintf("run %s: %s", st.Status, st.StatusReason)}
	}
	return nil
}

func printStatusLine(st *state.TaskState) {
	fmt.Printf("%sRun %s%s  %s%s%s", c(colorBold), st.RunID, c(colorReset),
		c(statusColor(st.Status)), st.Status, c(colorReset))
	if st.StatusReason != "" {
		fmt.Printf(" %s(%s)%s", c(colorDim), st.StatusReason, c(colorReset))
	}
	fmt.Println()
}
