package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/pkg/models"
)

var listMine bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List consumption records",
	Long: `Fetches all records from the SecurePeakData contract and displays them.
Consumption stays masked until the record has been decrypted.`,
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listMine, "mine", false, "Only show records submitted by the configured wallet")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := a.flowContext(cmd.Context())
	defer cancel()

	if err := checkOutcome(a.session.Refresh(ctx), a.session.Message()); err != nil {
		return err
	}

	records := a.session.Records()
	if listMine {
		if a.signer == nil {
			return fmt.Errorf("--mine requires a configured private key")
		}
		ids, err := a.session.UserRecordIDs(ctx, a.signer.Address())
		if err != nil {
			return fmt.Errorf("listing own records: %w", err)
		}
		records = a.session.RecordsOf(ids)
	}

	if len(records) == 0 {
		fmt.Println("No records found")
		return nil
	}

	fmt.Println("----------------------------------------------------------------")
	fmt.Printf("%-6s  %-16s  %12s  %-5s  %s\n", "ID", "Timestamp", "kWh", "Peak", "Age")
	fmt.Println("----------------------------------------------------------------")

	var total uint64
	decrypted := 0
	for _, r := range records {
		kwh := models.EncryptedPlaceholder
		peak := "-"
		if v, ok := r.ConsumptionKWh(); ok {
			kwh = humanize.Comma(int64(v))
			peak = fmt.Sprintf("%v", r.Peak)
			total += uint64(v)
			decrypted++
		}
		fmt.Printf("%-6d  %-16s  %12s  %-5s  %s\n", r.ID, r.Timestamp, kwh, peak, humanize.Time(r.RecordedAt))
	}

	fmt.Println("----------------------------------------------------------------")
	fmt.Printf("Total: %s kWh decrypted (%d of %d records)\n", humanize.Comma(int64(total)), decrypted, len(records))
	return nil
}
