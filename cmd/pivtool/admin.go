package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

var (
	adminSlotHex string
	adminAlgName string
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative key operations (require the management key)",
}

var adminGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new key pair in a slot",
	RunE:  runAdminGenerate,
}

var adminAttestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Fetch a YubicoPIV attestation certificate for a slot",
	RunE:  runAdminAttest,
}

func init() {
	for _, c := range []*cobra.Command{adminGenerateCmd, adminAttestCmd} {
		c.Flags().StringVar(&adminSlotHex, "slot", "9a", "slot id in hex")
	}
	adminGenerateCmd.Flags().StringVar(&adminAlgName, "alg", "eccp256", "key algorithm: rsa1024, rsa2048, eccp256, eccp384")
	adminCmd.AddCommand(adminGenerateCmd, adminAttestCmd)
	rootCmd.AddCommand(adminCmd)
}

func algByName(name string) (byte, error) {
	switch strings.ToLower(name) {
	case "rsa1024":
		return piv.AlgRSA1024, nil
	case "rsa2048":
		return piv.AlgRSA2048, nil
	case "eccp256":
		return piv.AlgECCP256, nil
	case "eccp384":
		return piv.AlgECCP384, nil
	default:
		return 0, fmt.Errorf("unknown algorithm %q", name)
	}
}

// loadManagementKey reads the hex-encoded management key named by the
// config's management_key.key_hex_file, defaulting to the PIV factory
// default 3DES key's algorithm if none is configured.
func loadManagementKey() (alg byte, key []byte, err error) {
	if cfg == nil || cfg.ManagementKey.KeyHexFile == "" {
		return 0, nil, fmt.Errorf("no management_key configured; pass -c with a config.yaml")
	}
	raw, err := os.ReadFile(cfg.ManagementKey.KeyHexFile)
	if err != nil {
		return 0, nil, fmt.Errorf("read management key file: %w", err)
	}
	key, err = hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, nil, fmt.Errorf("management key file is not valid hex: %w", err)
	}
	switch cfg.ManagementKey.Algorithm {
	case "aes128":
		alg = piv.AlgAES128
	case "aes192":
		alg = piv.AlgAES192
	case "aes256":
		alg = piv.AlgAES256
	default:
		alg = piv.Alg3DES
	}
	return alg, key, nil
}

func runAdminGenerate(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(adminSlotHex)
	if err != nil {
		return err
	}
	alg, err := algByName(adminAlgName)
	if err != nil {
		return err
	}
	mgmAlg, mgmKey, err := loadManagementKey()
	if err != nil {
		return err
	}

	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		if err := tok.AuthAdmin(mgmAlg, mgmKey); err != nil {
			return err
		}
		pub, err := tok.Generate(slotID, alg, 0, 0)
		if err != nil {
			return err
		}
		fmt.Printf("generated key in slot 0x%02X: %s", slotID, string(ssh.MarshalAuthorizedKey(pub)))
		return nil
	})
}

func runAdminAttest(cmd *cobra.Command, args []string) error {
	slotID, err := parseSlotHex(adminSlotHex)
	if err != nil {
		return err
	}
	return withToken(func(tok *piv.Token) error {
		txn, err := tok.Begin()
		if err != nil {
			return err
		}
		defer txn.End()
		der, err := tok.YkAttest(slotID)
		if err != nil {
			return err
		}
		return writePEMCert(os.Stdout, der)
	})
}
