package main

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

func writePEMCert(w io.Writer, der []byte) error {
	return pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: der})
}

var (
	certSlotHex string
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Certificate slot operations",
}

var certReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read a slot's certificate and print it as PEM",
	RunE:  runCertRead,
}

var certWriteCmd = &cobra.Command{
	Use:   "write FILE",
	Short: "Write a PEM certificate into a slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCertWrite,
}

var certListCmd = &cobra.Command{
	Use:   "list",
	Short: "Read all certificate-bearing slots",
	RunE:  runCertList,
}

func init() {
	for _, c := range []*cobra.Command{certReadCmd, certWriteCmd} {
		c.Flags().StringVar(&certSlotHex, "slot", "9a", "slot id in hex (9a, 9c, 9d, 9e, 82..95)")
	}
	certCmd.AddCommand(certReadCmd, certWriteCmd, certListCmd)
	rootCmd.AddCommand(certCmd)
}

func parseSlotHex(s string) (byte, error) {
	var id byte
	if _, err := fmt.Sscanf(s, "%x", &id); err != nil {
		return 0, fmt.Errorf("invalid slot %q: %w", s, err)
	}
	return id, nil
}

func runCertRead(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(certSlotHex)
	if err != nil {
		return err
	}
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		slot, err := tok.ReadCert(slotID)
		if err != nil {
			return err
		}
		return pem.Encode(os.Stdout, &pem.Block{Type: "CERTIFICATE", Bytes: slot.Cert.Raw})
	})
}

func runCertWrite(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(certSlotHex)
	if err != nil {
		return err
	}
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return fmt.Errorf("%s does not contain a PEM certificate", args[0])
	}
	if _, err := x509.ParseCertificate(block.Bytes); err != nil {
		return fmt.Errorf("invalid certificate: %w", err)
	}

	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		if err := tok.WriteCert(slotID, block.Bytes); err != nil {
			return err
		}
		fmt.Printf("certificate written to slot 0x%02X\n", slotID)
		return nil
	})
}

func runCertList(cmd *cobra.Command, args []string) error {
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		skipped, err := tok.ReadAllCerts()
		if err != nil {
			return err
		}
		t := newTable("CERTIFICATE SLOTS")
		t.AppendHeader(table.Row{"Slot", "Subject", "Algorithm"})
		for _, s := range tok.Slots() {
			if s.Cert == nil {
				continue
			}
			t.AppendRow(table.Row{fmt.Sprintf("0x%02X", s.ID), s.SubjectDN, fmt.Sprintf("0x%02X", s.Alg)})
		}
		t.Render()
		if len(skipped) > 0 {
			fmt.Printf("skipped (PIN required): %v\n", skipped)
		}
		return nil
	})
}
