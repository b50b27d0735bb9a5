package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/internal/peakdata"
)

var (
	updateConsumption uint32
	updatePeak        bool
)

var updateCmd = &cobra.Command{
	Use:   "update <record-id>",
	Short: "Replace the encrypted values of a record",
	Long: `Re-encrypts and replaces the consumption value and/or peak flag of a record you submitted.
Any cached plaintext of the record is discarded; decrypt it again to see the new values.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

var grantCmd = &cobra.Command{
	Use:   "grant <record-id> <auditor-address>",
	Short: "Allow another address to decrypt a record",
	Args:  cobra.ExactArgs(2),
	RunE:  runGrant,
}

func init() {
	updateCmd.Flags().Uint32Var(&updateConsumption, "consumption", 0, "New consumption in kWh")
	updateCmd.Flags().BoolVar(&updatePeak, "peak", false, "New peak flag")
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(grantCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}
	setConsumption := cmd.Flags().Changed("consumption")
	setPeak := cmd.Flags().Changed("peak")
	if !setConsumption && !setPeak {
		return fmt.Errorf("pass --consumption and/or --peak")
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if setConsumption {
		fmt.Printf("Updating consumption of record %d to %d kWh... ", id, updateConsumption)
		if err := runTx(a, func(s *peakdata.Session) (peakdata.TxResult, error) {
			ctx, cancel := a.flowContext(cmd.Context())
			defer cancel()
			return s.UpdateConsumption(ctx, id, updateConsumption)
		}); err != nil {
			return err
		}
	}
	if setPeak {
		fmt.Printf("Updating peak flag of record %d to %v... ", id, updatePeak)
		if err := runTx(a, func(s *peakdata.Session) (peakdata.TxResult, error) {
			ctx, cancel := a.flowContext(cmd.Context())
			defer cancel()
			return s.UpdatePeak(ctx, id, updatePeak)
		}); err != nil {
			return err
		}
	}
	return nil
}

func runGrant(cmd *cobra.Command, args []string) error {
	id, err := parseRecordID(args[0])
	if err != nil {
		return err
	}
	if !common.IsHexAddress(args[1]) {
		return fmt.Errorf("invalid auditor address %q", args[1])
	}
	auditor := common.HexToAddress(args[1])

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Granting %s access to record %d... ", auditor.Hex(), id)
	return runTx(a, func(s *peakdata.Session) (peakdata.TxResult, error) {
		ctx, cancel := a.flowContext(cmd.Context())
		defer cancel()
		return s.GrantAccess(ctx, id, auditor)
	})
}

// runTx runs one write flow and prints its result line
func runTx(a *app, flow func(*peakdata.Session) (peakdata.TxResult, error)) error {
	res, err := flow(a.session)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	if err := checkOutcome(res.Outcome, a.session.Message()); err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Printf("✓ %s\n", res.TxHash.Hex())
	fmt.Println(a.session.Message())
	return nil
}
