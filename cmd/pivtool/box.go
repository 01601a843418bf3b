package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/barnettlynn/pivcard/pkg/piv"
	"github.com/barnettlynn/pivcard/pkg/pivbox"
)

var (
	boxRecipientFile string
	boxSlotHex       string
	boxBind          bool
)

var boxCmd = &cobra.Command{
	Use:   "box",
	Short: "ECDH-sealed box operations",
}

var boxSealCmd = &cobra.Command{
	Use:   "seal FILE",
	Short: "Seal a file to a recipient's public key",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoxSeal,
}

var boxOpenCmd = &cobra.Command{
	Use:   "open FILE",
	Short: "Open a box using a token's key management slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runBoxOpen,
}

func init() {
	boxSealCmd.Flags().StringVar(&boxRecipientFile, "recipient", "", "path to the recipient's SSH-format EC public key")
	boxSealCmd.Flags().BoolVar(&boxBind, "bind", false, "bind the box to the current token+slot")
	boxSealCmd.Flags().StringVar(&boxSlotHex, "slot", "9d", "key management slot id in hex")
	boxOpenCmd.Flags().StringVar(&boxSlotHex, "slot", "9d", "key management slot id in hex")
	boxCmd.AddCommand(boxSealCmd, boxOpenCmd)
	rootCmd.AddCommand(boxCmd)
}

func runBoxSeal(cmd *cobra.Command, args []string) error {
	if boxRecipientFile == "" {
		return fmt.Errorf("--recipient is required")
	}
	raw, err := os.ReadFile(boxRecipientFile)
	if err != nil {
		return fmt.Errorf("read recipient key: %w", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return fmt.Errorf("parse recipient key: %w", err)
	}
	plaintext, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}

	opts := pivbox.SealOptions{}
	if boxBind {
		slotID, err := parseSlotHex(boxSlotHex)
		if err != nil {
			return err
		}
		return withToken(func(tok *piv.Token) error {
			txn, err := tok.Begin()
			if err != nil {
				return err
			}
			defer txn.End()

			slot, ok := tok.Slot(slotID)
			if !ok {
				slot, err = tok.ReadCert(slotID)
				if err != nil {
					return err
				}
			}

			pin, err := promptSecret("PIN")
			if err != nil {
				return err
			}
			if _, err := tok.VerifyPIN(piv.RefPIN, pin, piv.VerifyPINOptions{CanSkip: true}); err != nil {
				return err
			}

			opts.GUID = tok.GUID[:]
			opts.Slot = slotID
			b, err := pivbox.SealOnline(tok, slot, pub, plaintext, opts)
			if err != nil {
				return err
			}
			return printBox(b)
		})
	}

	b, err := pivbox.Seal(pub, plaintext, opts)
	if err != nil {
		return err
	}
	return printBox(b)
}

func printBox(b *pivbox.Box) error {
	wire, err := pivbox.Marshal(b)
	if err != nil {
		return err
	}
	fmt.Println(base64.StdEncoding.EncodeToString(wire))
	return nil
}

func runBoxOpen(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(boxSlotHex)
	if err != nil {
		return err
	}
	encoded, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	wire, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return fmt.Errorf("box file is not valid base64: %w", err)
	}
	b, err := pivbox.Parse(wire)
	if err != nil {
		return fmt.Errorf("parse box: %w", err)
	}

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
		slot, ok := tok.Slot(slotID)
		if !ok {
			slot, err = tok.ReadCert(slotID)
			if err != nil {
				return err
			}
		}
		plaintext, err := pivbox.Open(b, tok, slot)
		if err != nil {
			return err
		}
		defer pivbox.TakeData(b, plaintext)
		os.Stdout.Write(plaintext)
		return nil
	})
}
