package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/imkarma/taskpilot/internal/config"
	"github.com/imkarma/taskpilot/internal/state"
	"github.com/imkarma/taskpilot/internal/store"
	"github.com/imkarma/taskpilot/internal/workflow"
)

// ANSI color codes.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
)

const dbFile = "taskpilot.db"

// ExitError carries the process exit code of a command. Msg, when set, is
// printed before exiting.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Exit codes.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitInterrupt = 2
)

// isTTY reports whether f is an interactive terminal.
func isTTY(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

var colorEnabled = isTTY(os.Stdout) && os.Getenv("NO_COLOR") == ""

// c returns code when stdout takes colors, "" otherwise.
func c(code string) string {
	if !colorEnabled {
		return ""
	}
	return code
}

func stateDir() string {
	if dir := viper.GetString("state_dir"); dir != "" {
		return dir
	}
	return state.DirName
}

func viperLogLevel() string {
	return viper.GetString("log_level")
}

// logLevel picks the run log level: flag or env, then the level the run
// was started with, then config.yaml.
func logLevel(cfg *config.Config, st *state.TaskState) string {
	if lvl := viperLogLevel(); lvl != "" {
		return lvl
	}
	if st.Options.LogLevel != "" {
		return st.Options.LogLevel
	}
	return cfg.Log.Level
}

func openStates() *state.Store {
	return state.NewStore(stateDir())
}

// loadRun reads the persisted run, turning a missing one into a hint.
func loadRun(states *state.Store) (*state.TaskState, error) {
	st, err := states.Load()
	if errors.Is(err, state.ErrNotFound) {
		return nil, fmt.Errorf("no run in %s. Run: taskpilot start \"your goal\"", states.Dir())
	}
	return st, err
}

// mustDB opens the database, returning an error if taskpilot is not initialized.
func mustDB(states *state.Store) (*store.Store, error) {
	path := states.Path(dbFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("taskpilot not initialized. Run: taskpilot init")
	}
	return store.New(path)
}

// ensureStateDir creates the state directory with a default config and the
// database. It reports whether anything was created.
func ensureStateDir(states *state.Store) (bool, error) {
	created := false
	if err := os.MkdirAll(states.Dir(), 0755); err != nil {
		return false, fmt.Errorf("create %s: %w", states.Dir(), err)
	}

	cfgPath := states.Path(config.FileName)
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.Save(cfgPath, config.DefaultConfig()); err != nil {
			return false, fmt.Errorf("write config: %w", err)
		}
		created = true
	}

	dbPath := states.Path(dbFile)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		created = true
	}
	db, err := store.New(dbPath)
	if err != nil {
		return false, fmt.Errorf("create database: %w", err)
	}
	db.Close()
	return created, nil
}

func loadConfig(states *state.Store) (*config.Config, error) {
	return config.LoadOrDefault(states.Path(config.FileName))
}

func statusColor(s workflow.Status) string {
	switch s {
	case workflow.StatusPlanning:
		return colorCyan
	case workflow.StatusWorking:
		return colorBlue
	case workflow.StatusPaused:
		return colorYellow
	case workflow.StatusBlocked, workflow.StatusFailed:
		return colorRed
	case workflow.StatusSuccess:
		return colorGreen
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
