package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/panelgate/config"
	"github.com/jmcleod/panelgate/internal/util"
)

var (
	keygenBytes int
	keygenOut   string
	keygenSalt  bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random master key",
	Long: `Prints a random hex master key suitable for PANELGATE_MASTER_KEY, or
writes it with mode 0600 to --out for use as security.master_key_file.
An existing file is never overwritten.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runKeygen(cmd.OutOrStdout(), keygenBytes, keygenOut, keygenSalt)
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().IntVarP(&keygenBytes, "bytes", "n", 32, "Random bytes in the key (hex output is twice as long)")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "Write the key to this file instead of stdout")
	keygenCmd.Flags().BoolVar(&keygenSalt, "salt", false, "Also print a random security.salt value")
}

func runKeygen(stdout io.Writer, n int, out string, withSalt bool) error {
	if n*2 < config.MinMasterKeyLength {
		return fmt.Errorf("--bytes must be at least %d", config.MinMasterKeyLength/2)
	}
	key, err := util.RandomHex(n)
	if err != nil {
		return err
	}

	if out == "" {
		fmt.Fprintln(stdout, key)
	} else {
		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return fmt.Errorf("refusing to overwrite existing key file %s", out)
			}
			return fmt.Errorf("creating key file: %w", err)
		}
		if _, err := fmt.Fprintln(f, key); err != nil {
			f.Close()
			return fmt.Errorf("writing key file: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing key file: %w", err)
		}
		fmt.Fprintf(stdout, "Master key written to %s\n", out)
	}

	if withSalt {
		salt, err := util.RandomHex(16)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "salt: %s\n", salt)
	}
	return nil
}
