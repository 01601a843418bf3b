package main

import (
	"crypto"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

var signSlotHex string

var signCmd = &cobra.Command{
	Use:   "sign FILE",
	Short: "Sign a file's SHA-256 digest with a slot's private key",
	Args:  cobra.ExactArgs(1),
	RunE:  runSign,
}

func init() {
	signCmd.Flags().StringVar(&signSlotHex, "slot", "9c", "signing slot id in hex")
	rootCmd.AddCommand(signCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(signSlotHex)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	digest := sha256.Sum256(data)

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
		slot, err := tok.ReadCert(slotID)
		if err != nil {
			return err
		}
		modulusBits := 0
		if slot.Alg == piv.AlgRSA1024 {
			modulusBits = 1024
		} else if slot.Alg == piv.AlgRSA2048 {
			modulusBits = 2048
		}
		sig, err := tok.SignPrehash(slot, crypto.SHA256, digest[:], modulusBits)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(sig))
		return nil
	})
}
