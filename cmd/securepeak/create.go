package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	createConsumption uint32
	createPeak        bool
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit an encrypted consumption record",
	Long:  `Encrypts the consumption value and peak flag with the FHE relayer and submits them to the contract.`,
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().Uint32Var(&createConsumption, "consumption", 0, "Consumption in kWh")
	createCmd.Flags().BoolVar(&createPeak, "peak", false, "Mark the reading as peak usage")
	createCmd.MarkFlagRequired("consumption")
	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.flowContext(cmd.Context())
	defer cancel()

	fmt.Printf("Creating record (%d kWh, peak=%v)... ", createConsumption, createPeak)
	res, err := a.session.Create(ctx, createConsumption, createPeak)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	if err := checkOutcome(res.Outcome, a.session.Message()); err != nil {
		fmt.Println("FAILED")
		return err
	}

	fmt.Println("✓")
	fmt.Printf("Transaction: %s\n", res.TxHash.Hex())
	if res.HasRecordID {
		fmt.Printf("Record ID:   %d\n", res.RecordID)
	}
	fmt.Println(a.session.Message())
	return nil
}
