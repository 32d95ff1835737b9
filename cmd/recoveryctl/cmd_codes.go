package main

import (
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/keyrecovery/reccode"
	"github.com/urfave/cli"
)

var inviteCodeCommand = cli.Command{
	Name:     "invitecode",
	Category: "Codes",
	Usage:    "Encode or decode trusted contact invite codes.",
	Subcommands: []cli.Command{
		{
			Name:      "encode",
			Usage:     "Build an invite code.",
			ArgsUsage: "server-part",
			Flags: []cli.Flag{
				cli.IntFlag{
					Name:  "bits",
					Value: reccode.MinCodeBitLength,
					Usage: "Number of server part bits the " +
						"code carries.",
				},
				cli.StringFlag{
					Name: "pake",
					Usage: "Hex encoded PAKE part. A random " +
						"one is generated if unset.",
				},
			},
			Action: encodeInviteCode,
		},
		{
			Name:      "decode",
			Usage:     "Split an invite code into its parts.",
			ArgsUsage: "[code]",
			Description: "If no code is given it is read from " +
				"the terminal without echo.",
			Action: decodeInviteCode,
		},
	},
}

var recoveryCodeCommand = cli.Command{
	Name:     "recoverycode",
	Category: "Codes",
	Usage:    "Encode or decode social recovery challenge codes.",
	Subcommands: []cli.Command{
		{
			Name:      "encode",
			Usage:     "Build a recovery code.",
			ArgsUsage: "counter",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name: "pake",
					Usage: "Hex encoded PAKE part. A random " +
						"one is generated if unset.",
				},
			},
			Action: encodeRecoveryCode,
		},
		{
			Name:      "decode",
			Usage:     "Split a recovery code into its parts.",
			ArgsUsage: "[code]",
			Description: "If no code is given it is read from " +
				"the terminal without echo.",
			Action: decodeRecoveryCode,
		},
	},
}

// pakeFlag parses --pake or returns a fresh code from gen.
func pakeFlag(ctx *cli.Context,
	gen func() (reccode.PakeCode, error)) (reccode.PakeCode, error) {

	if !ctx.IsSet("pake") {
		return gen()
	}

	b, err := hex.DecodeString(ctx.String("pake"))
	if err != nil {
		return nil, fmt.Errorf("invalid pake part: %w", err)
	}

	return b, nil
}

// codeArg returns the first argument or reads one from the terminal.
func codeArg(ctx *cli.Context, prompt string) (string, error) {
	if ctx.NArg() > 0 {
		return ctx.Args().First(), nil
	}

	return readSecret(prompt)
}

type inviteCodeResp struct {
	Code       string `json:"code"`
	ServerPart string `json:"server_part"`
	PakePart   string `json:"pake_part"`
}

func encodeInviteCode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "encode")
	}

	pake, err := pakeFlag(ctx, reccode.NewInvitePakeCode)
	if err != nil {
		return err
	}

	serverPart := ctx.Args().First()
	code, err := reccode.BuildInviteCode(serverPart, ctx.Int("bits"), pake)
	if err != nil {
		return err
	}

	printJSON(inviteCodeResp{
		Code:       code,
		ServerPart: serverPart,
		PakePart:   pake.String(),
	})

	return nil
}

func decodeInviteCode(ctx *cli.Context) error {
	code, err := codeArg(ctx, "Invite code: ")
	if err != nil {
		return err
	}

	parsed, err := reccode.ParseInviteCode(code)
	if err != nil {
		if reccode.IsVersionMismatch(err) {
			return fmt.Errorf("%w, the code was made by a newer "+
				"version", err)
		}

		return err
	}

	printJSON(inviteCodeResp{
		Code:       code,
		ServerPart: parsed.ServerPart,
		PakePart:   parsed.PakePart.String(),
	})

	return nil
}

type recoveryCodeResp struct {
	Code       string `json:"code"`
	ServerPart uint64 `json:"server_part"`
	PakePart   string `json:"pake_part"`
}

func encodeRecoveryCode(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "encode")
	}

	var counter uint64
	if _, err := fmt.Sscan(ctx.Args().First(), &counter); err != nil {
		return fmt.Errorf("invalid counter: %w", err)
	}

	pake, err := pakeFlag(ctx, func() (reccode.PakeCode, error) {
		return reccode.NewPakeCode(reccode.RecoveryPakeSize)
	})
	if err != nil {
		return err
	}

	code, err := reccode.BuildRecoveryCode(counter, pake)
	if err != nil {
		return err
	}

	printJSON(recoveryCodeResp{
		Code:       code,
		ServerPart: counter,
		PakePart:   pake.String(),
	})

	return nil
}

func decodeRecoveryCode(ctx *cli.Context) error {
	code, err := codeArg(ctx, "Recovery code: ")
	if err != nil {
		return err
	}

	parsed, err := reccode.ParseRecoveryCode(code)
	if err != nil {
		return err
	}

	printJSON(recoveryCodeResp{
		Code:       code,
		ServerPart: parsed.ServerPart,
		PakePart:   parsed.PakePart.String(),
	})

	return nil
}
