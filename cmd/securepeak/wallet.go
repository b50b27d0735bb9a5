package main

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/jgoulah/securepeak/internal/wallet"
)

var walletForce bool

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage the signing key",
}

var walletNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Generate a signing key and save it to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("generating key: %w", err)
		}
		return storeKey(hex.EncodeToString(crypto.FromECDSA(key)))
	},
}

var walletImportCmd = &cobra.Command{
	Use:   "import <hex-private-key>",
	Short: "Save an existing signing key to the config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return storeKey(args[0])
	},
}

var walletShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the address of the configured signing key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		keyHex, err := cfg.GetPrivateKeyHex()
		if err != nil {
			return err
		}
		if keyHex == "" {
			fmt.Println("No signing key configured")
			return nil
		}
		signer, err := wallet.FromHex(keyHex)
		if err != nil {
			return err
		}
		fmt.Println(signer.Address().Hex())
		return nil
	},
}

func init() {
	walletCmd.PersistentFlags().BoolVar(&walletForce, "force", false, "Replace an existing key")
	walletCmd.AddCommand(walletNewCmd, walletImportCmd, walletShowCmd)
	rootCmd.AddCommand(walletCmd)
}

// storeKey validates keyHex and writes it to the config file
func storeKey(keyHex string) error {
	signer, err := wallet.FromHex(keyHex)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if (cfg.PrivateKey != "" || cfg.PrivateKeyFile != "") && !walletForce {
		return fmt.Errorf("a signing key is already configured (use --force to replace it)")
	}

	cfg.PrivateKey = keyHex
	cfg.PrivateKeyFile = ""
	if err := saveConfig(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("✓ Signing key for %s saved to %s\n", signer.Address().Hex(), getConfigPath())
	return nil
}
