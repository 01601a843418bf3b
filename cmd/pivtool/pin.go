package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

var pinCmd = &cobra.Command{
	Use:   "pin",
	Short: "PIN and PUK operations",
}

var pinVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the PIN",
	RunE:  runPINVerify,
}

var pinChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the PIN",
	RunE:  runPINChange,
}

var pinResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the PIN using the PUK",
	RunE:  runPINReset,
}

func init() {
	pinCmd.AddCommand(pinVerifyCmd, pinChangeCmd, pinResetCmd)
	rootCmd.AddCommand(pinCmd)
}

func withToken(fn func(tok *piv.Token) error) error {
	ctx, err := newPCSCContext()
	if err != nil {
		return err
	}
	defer ctx.Release()

	reader, err := selectReader(ctx)
	if err != nil {
		return err
	}
	transport, err := piv.DialPCSC(ctx, reader)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", reader, err)
	}

	tokens, err := piv.Enumerate(literalDialer{reader: reader, transport: transport}, []string{reader})
	if err != nil || len(tokens) != 1 {
		return fmt.Errorf("probe %s: %w", reader, err)
	}
	return fn(tokens[0])
}

// literalDialer adapts an already-open transport to the piv.Dialer
// interface so the CLI can reuse Enumerate's probe logic for a single,
// already-selected reader instead of duplicating it.
type literalDialer struct {
	reader    string
	transport piv.Card
}

func (d literalDialer) Dial(reader string) (piv.Card, error) {
	if reader != d.reader {
		return nil, fmt.Errorf("unexpected reader %q", reader)
	}
	return d.transport, nil
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", label, err)
	}
	return string(b), nil
}

func runPINVerify(cmd *cobra.Command, args []string) error {
	pin, err := promptSecret("PIN")
	if err != nil {
		return err
	}
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		if _, err := tok.VerifyPIN(piv.RefPIN, pin, piv.VerifyPINOptions{CanSkip: true}); err != nil {
			return err
		}
		fmt.Println("PIN verified.")
		return nil
	})
}

func runPINChange(cmd *cobra.Command, args []string) error {
	oldPIN, err := promptSecret("Current PIN")
	if err != nil {
		return err
	}
	newPIN, err := promptSecret("New PIN")
	if err != nil {
		return err
	}
	confirm, err := promptSecret("Confirm new PIN")
	if err != nil {
		return err
	}
	if newPIN != confirm {
		return fmt.Errorf("new PIN and confirmation do not match")
	}
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		if err := tok.ChangePIN(piv.RefPIN, oldPIN, newPIN); err != nil {
			return err
		}
		fmt.Println("PIN changed.")
		return nil
	})
}

func runPINReset(cmd *cobra.Command, args []string) error {
	puk, err := promptSecret("PUK")
	if err != nil {
		return err
	}
	newPIN, err := promptSecret("New PIN")
	if err != nil {
		return err
	}
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		if err := tok.ResetPIN(puk, newPIN); err != nil {
			return err
		}
		fmt.Println("PIN reset.")
		return nil
	})
}
