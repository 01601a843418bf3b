package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/barnettlynn/pivcard/pkg/piv"
)

var colorHeader = text.Colors{text.FgCyan, text.Bold}

func newTable(title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	style := table.StyleRounded
	style.Color.Header = colorHeader
	t.SetStyle(style)
	t.SetTitle(title)
	return t
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List readers and the tokens present in them",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, err := newPCSCContext()
	if err != nil {
		return err
	}
	defer ctx.Release()

	tokens, err := piv.EnumeratePCSC(ctx)
	if err != nil {
		return fmt.Errorf("enumerate tokens: %w", err)
	}

	t := newTable("PIV TOKENS")
	t.AppendHeader(table.Row{"Reader", "GUID", "YubiKey", "Auth Methods", "Status"})
	for _, tok := range tokens {
		status := "ok"
		if tok.ProbeError != nil {
			status = tok.ProbeError.Error()
		}
		yk := "-"
		if tok.YkHasYk {
			yk = yubicoVersionString(tok.YkVersion)
			if tok.YkHasSerial {
				yk = fmt.Sprintf("%s (serial %d)", yk, tok.YkSerial)
			}
		}
		t.AppendRow(table.Row{tok.Reader, hex.EncodeToString(tok.GUID[:]), yk, tok.AuthMethods, status})
	}
	t.Render()
	return nil
}

func yubicoVersionString(v [3]byte) string {
	return fmt.Sprintf("%d.%d.%d", v[0], v[1], v[2])
}
