package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/chickenbot/internal/config"
	"github.com/stellarlinkco/chickenbot/internal/gateway"
	"github.com/stellarlinkco/chickenbot/internal/journal"
	"github.com/stellarlinkco/chickenbot/internal/responses"
	"github.com/stellarlinkco/chickenbot/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "chickenbot",
	Short: "chickenbot - answers why the chicken crossed the road",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the bot (post scanner + removal inbox)",
	RunE:  runBot,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chickenbot status",
	RunE:  runStatus,
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the remaining responses in serving order",
	RunE:  runQueue,
}

var configFlag string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Config file (default ~/.chickenbot/config.json)")
	rootCmd.AddCommand(runCmd, onboardCmd, statusCmd, queueCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadConfigFrom(configFlag)
	}
	return config.LoadConfig()
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgPath := configFile()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfigTo(config.DefaultConfig(), cfgPath); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ws := cfg.Paths.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(out, cfg.Paths.ResponsesPath(), defaultResponses)
	writeIfNotExists(out, cfg.Paths.BlacklistPath(), "")

	fmt.Fprintf(out, "Workspace ready: %s\n", ws)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your Reddit script app credentials\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set CHICKENBOT_CLIENT_ID / CHICKENBOT_CLIENT_SECRET / CHICKENBOT_USERNAME / CHICKENBOT_PASSWORD")
	fmt.Fprintln(out, "  3. Run 'chickenbot run'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", configFile())
	fmt.Fprintf(out, "Workspace: %s\n", cfg.Paths.Workspace)
	fmt.Fprintf(out, "Account: %s\n", displayOr(cfg.Reddit.Username, "not set"))
	fmt.Fprintf(out, "Subreddit: r/%s\n", cfg.Bot.Subreddit)
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Notify.Telegram.Enabled)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Validation: %v\n", err)
	}

	n, err := journal.CountReplies(cfg.Paths.ReplyLogPath())
	if err != nil {
		fmt.Fprintf(out, "Replies: error (%v)\n", err)
	} else {
		fmt.Fprintf(out, "Replies: %d\n", cfg.Bot.CounterStart+n)
	}

	dbPath := cfg.Paths.StateDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintln(out, "State: not found (run 'chickenbot run')")
		return nil
	}
	s, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(out, "State: error (%v)\n", err)
		return nil
	}
	defer s.Close()

	if items, err := s.LoadQueue(); err == nil {
		fmt.Fprintf(out, "Queue: %d responses left this round\n", len(items))
	}
	if wm, ok, err := s.LoadWatermark(); err == nil && ok {
		fmt.Fprintf(out, "Watermark: %s\n", wm.Local().Format(time.RFC3339))
	} else if err == nil {
		fmt.Fprintln(out, "Watermark: not set")
	}
	return nil
}

func runQueue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dbPath := cfg.Paths.StateDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("no state at %s (run 'chickenbot run' first)", dbPath)
	}
	s, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer s.Close()

	items, err := s.LoadQueue()
	if err != nil {
		return err
	}
	printQueue(cmd.OutOrStdout(), responses.ServingOrder(items))
	return nil
}

// printQueue lists responses in the order given, next first.
func printQueue(w io.Writer, next []string) {
	if len(next) == 0 {
		fmt.Fprintln(w, "Queue is empty; it will be refilled on the next reply.")
		return
	}
	for i, text := range next {
		fmt.Fprintf(w, "%3d. %s\n", i+1, text)
	}
	fmt.Fprintf(w, "\n%d responses left\n", len(next))
}

func configFile() string {
	if configFlag != "" {
		return configFlag
	}
	return config.ConfigPath()
}

func displayOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func writeIfNotExists(w io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(w, "  Created: %s\n", path)
	}
}

const defaultResponses = `To get to the other side.
Because the road was there.\nAnd so was the chicken.
To prove to the possum that it could be done.
It was a free-range chicken.
To boldly go where no chicken has gone before.
The light was green.
`
