package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved deployment and client state",
	Long:  `Resolves the SecurePeakData deployment for the connected chain and prints the signer, relayer and cache state.`,
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.session.Status()
	fmt.Printf("Chain:     %d", st.ChainID)
	if st.ChainName != "" {
		fmt.Printf(" (%s)", st.ChainName)
	}
	fmt.Println()

	if st.Contract != nil {
		fmt.Printf("Contract:  %s\n", st.Contract.Hex())
	} else {
		fmt.Println("Contract:  not deployed")
	}
	if st.Signer != nil {
		fmt.Printf("Signer:    %s\n", st.Signer.Hex())
	} else {
		fmt.Println("Signer:    none (read-only)")
	}
	fmt.Printf("Relayer:   %v\n", st.InstanceUp)

	if st.Contract != nil {
		cached, err := a.db.ListDecrypted(st.ChainID, st.Contract.Hex())
		if err != nil {
			return fmt.Errorf("listing cached readings: %w", err)
		}
		fmt.Printf("Decrypted: %d cached\n", len(cached))
	}
	if st.Message != "" {
		fmt.Println(st.Message)
	}
	return nil
}
