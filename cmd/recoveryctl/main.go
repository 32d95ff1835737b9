package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lightningnetwork/keyrecovery"
	"github.com/lightningnetwork/keyrecovery/build"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

const appVersion = "0.1.0"

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[recoveryctl] %v\n", err)
	os.Exit(1)
}

// getContext returns a context that is cancelled on interrupt.
func getContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	return ctx
}

// loadConfig builds the engine config from the global flags.
func loadConfig(ctx *cli.Context) (*keyrecovery.Config, error) {
	cfg := keyrecovery.DefaultConfig()
	cfg.HomeDir = ctx.GlobalString("homedir")
	if ctx.GlobalIsSet("datadir") {
		cfg.DataDir = ctx.GlobalString("datadir")
	}

	return keyrecovery.ValidateConfig(cfg)
}

func printJSON(resp interface{}) {
	b, err := json.MarshalIndent(resp, "", "    ")
	if err != nil {
		fatal(err)
	}

	fmt.Println(string(b))
}

// readSecret reads a code from the terminal without echoing it. This requires
// an actual TTY.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	// The variable syscall.Stdin is of a different type in the Windows API
	// that's why we need the explicit cast.
	b, err := term.ReadPassword(int(syscall.Stdin)) // nolint:unconvert
	fmt.Println()

	return string(b), err
}

func main() {
	app := cli.NewApp()
	app.Name = "recoveryctl"
	app.Version = appVersion + " build=" + build.Deployment.String()
	app.Usage = "inspect account recovery state and recovery codes"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:      "homedir",
			Value:     keyrecovery.DefaultHomeDir,
			Usage:     "The path to the recovery engine's home dir.",
			TakesFile: true,
		},
		cli.StringFlag{
			Name:      "datadir",
			Usage:     "The directory holding the recovery database.",
			TakesFile: true,
		},
	}
	app.Commands = []cli.Command{
		inviteCodeCommand,
		recoveryCodeCommand,
		statusCommand,
		clearCommand,
		contactsCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
