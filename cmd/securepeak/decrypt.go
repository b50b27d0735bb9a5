package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/internal/peakdata"
)

var decryptAll bool

var decryptCmd = &cobra.Command{
	Use:   "decrypt [record-id...]",
	Short: "Decrypt consumption records",
	Long: `Decrypts records through the FHE relayer. The first run asks the wallet to sign
a decryption permit which is cached and reused until it expires.`,
	RunE: runDecrypt,
}

func init() {
	decryptCmd.Flags().BoolVar(&decryptAll, "all", false, "Decrypt every record that is still encrypted")
	rootCmd.AddCommand(decryptCmd)
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !decryptAll {
		return fmt.Errorf("pass one or more record ids or --all")
	}

	var ids []uint64
	for _, arg := range args {
		id, err := parseRecordID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if decryptAll {
		ctx, cancel := a.flowContext(cmd.Context())
		outcome := a.session.Refresh(ctx)
		cancel()
		if err := checkOutcome(outcome, a.session.Message()); err != nil {
			return err
		}
		for _, r := range a.session.Records() {
			if !r.IsDecrypted {
				ids = append(ids, r.ID)
			}
		}
		if len(ids) == 0 {
			fmt.Println("All records are already decrypted")
			return nil
		}
	}

	failed := 0
	for i, id := range ids {
		fmt.Printf("[%d/%d] Decrypting record %d... ", i+1, len(ids), id)
		res, err := decryptOne(cmd, a, id)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failed++
			if errors.Is(err, peakdata.ErrSignatureUnavailable) {
				break
			}
			continue
		}
		fmt.Printf("✓ %d kWh, peak=%v\n", res.Consumption, res.Peak)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d records failed to decrypt", failed, len(ids))
	}
	return nil
}

func decryptOne(cmd *cobra.Command, a *app, id uint64) (peakdata.DecryptResult, error) {
	ctx, cancel := a.flowContext(cmd.Context())
	defer cancel()

	res, err := a.session.Decrypt(ctx, id)
	if err != nil {
		return res, err
	}
	return res, checkOutcome(res.Outcome, a.session.Message())
}
