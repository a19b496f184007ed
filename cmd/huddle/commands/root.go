package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// Global flags shared by every command that joins a session.
var (
	configPath   string
	sessionName  string
	nicknameFlag string
	redisAddr    string
	relayURL     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "huddle",
	Short: "Huddle - shared live state for small groups",
	Long: `Huddle keeps a small group's shared state in sync: counters, cursors,
presence, turn-based games, and a recent-activity feed.

Every participant holds a full local copy of the session state and
publishes its own writes; conflicting writes converge through a
last-writer-wins merge, so everyone ends up seeing the same thing.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to huddle.yml (flags override file values)")
	rootCmd.PersistentFlags().StringVarP(&sessionName, "session", "s", "", "Session to join")
	rootCmd.PersistentFlags().StringVarP(&nicknameFlag, "nickname", "n", "", "Nickname shown to other participants")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address (host:port); selects the Redis transport")
	rootCmd.PersistentFlags().StringVar(&relayURL, "relay", "", "Relay WebSocket URL; selects the relay transport")
}
