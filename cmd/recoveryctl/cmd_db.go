package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lightningnetwork/keyrecovery"
	"github.com/lightningnetwork/keyrecovery/f8e"
	"github.com/lightningnetwork/keyrecovery/recovery"
	"github.com/lightningnetwork/keyrecovery/recoverydb"
	"github.com/lightningnetwork/keyrecovery/socrec"
	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/urfave/cli"
)

var accountFlag = cli.StringFlag{
	Name:  "account",
	Usage: "The account to act on.",
}

var statusCommand = cli.Command{
	Name:     "status",
	Category: "Recovery",
	Usage:    "Show the reconciled recovery state of stored accounts.",
	Flags:    []cli.Flag{accountFlag},
	Action:   status,
}

var clearCommand = cli.Command{
	Name:     "clear",
	Category: "Recovery",
	Usage:    "Wipe the local recovery attempt of an account.",
	Description: "Removes both the local attempt and the cached server " +
		"record. The account must not be recovering on another " +
		"running engine.",
	Flags: []cli.Flag{
		accountFlag,
		cli.BoolFlag{
			Name:  "force",
			Usage: "Do not ask for confirmation.",
		},
	},
	Action: clearRecovery,
}

var contactsCommand = cli.Command{
	Name:     "contacts",
	Category: "Social Recovery",
	Usage:    "List the authentication state of every trusted contact.",
	Action:   contacts,
}

// openDB opens the recovery database configured by the global flags. The
// returned function closes it.
func openDB(ctx *cli.Context) (kvdb.Backend, func(), error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}

	backend, err := keyrecovery.OpenBackend(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open %v: %w",
			cfg.DBPath(), err)
	}

	cleanup := func() {
		if err := backend.Close(); err != nil {
			fmt.Printf("unable to close database: %v\n", err)
		}
	}

	return backend, cleanup, nil
}

// withManager runs f with a recovery manager over the configured database.
func withManager(ctx *cli.Context,
	f func(*recoverydb.DB, *recovery.Manager) error) error {

	backend, cleanup, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	db, err := recoverydb.New(backend)
	if err != nil {
		return err
	}

	manager := recovery.NewManager(recovery.Config{Store: db})
	if err := manager.Start(); err != nil {
		return err
	}
	defer func() {
		_ = manager.Stop()
	}()

	return f(db, manager)
}

type accountStatus struct {
	Account  string `json:"account"`
	Recovery string `json:"recovery"`
	Phase    string `json:"local_phase,omitempty"`
}

func status(ctx *cli.Context) error {
	return withManager(ctx, func(db *recoverydb.DB,
		manager *recovery.Manager) error {

		var accounts []f8e.AccountID
		if ctx.IsSet("account") {
			accounts = []f8e.AccountID{
				f8e.AccountID(ctx.String("account")),
			}
		} else {
			stored, err := db.Accounts()
			if err != nil {
				return err
			}
			accounts = stored
		}

		resp := make([]accountStatus, 0, len(accounts))
		for _, accountID := range accounts {
			rec, err := manager.ActiveRecovery(accountID)
			if err != nil {
				return fmt.Errorf("unable to reconcile %v: %w",
					accountID, err)
			}

			s := accountStatus{
				Account:  string(accountID),
				Recovery: rec.String(),
			}
			if still, ok := rec.(recovery.StillRecovering); ok {
				s.Phase = still.Attempt().Phase.String()
			}
			resp = append(resp, s)
		}

		printJSON(resp)

		return nil
	})
}

func clearRecovery(ctx *cli.Context) error {
	if !ctx.IsSet("account") {
		return errors.New("--account is required")
	}
	accountID := f8e.AccountID(ctx.String("account"))

	if !ctx.Bool("force") {
		answer, err := promptForConfirmation(fmt.Sprintf(
			"Clear the local recovery of %v? (yes/no): ",
			accountID,
		))
		if err != nil {
			return err
		}
		if !answer {
			return nil
		}
	}

	return withManager(ctx, func(_ *recoverydb.DB,
		manager *recovery.Manager) error {

		return manager.Clear(getContext(), accountID)
	})
}

// promptForConfirmation asks the user a yes/no question.
func promptForConfirmation(msg string) (bool, error) {
	fmt.Print(msg)

	var answer string
	if _, err := fmt.Scanln(&answer); err != nil {
		return false, err
	}

	switch answer {
	case "yes", "y":
		return true, nil
	case "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid answer %q", answer)
	}
}

type contactState struct {
	RelationshipID string `json:"relationship_id"`
	State          string `json:"state"`
}

func contacts(ctx *cli.Context) error {
	backend, cleanup, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	store, err := socrec.NewStore(backend)
	if err != nil {
		return err
	}

	states, err := store.States()
	if err != nil {
		return err
	}

	resp := make([]contactState, 0, len(states))
	for relID, state := range states {
		resp = append(resp, contactState{
			RelationshipID: relID,
			State:          state.String(),
		})
	}
	sort.Slice(resp, func(i, j int) bool {
		return resp[i].RelationshipID < resp[j].RelationshipID
	})

	printJSON(resp)

	return nil
}
